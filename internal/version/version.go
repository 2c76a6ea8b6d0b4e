package version

import "runtime"

var (
	// Version is the version of the iaas tooling (overridden via -ldflags)
	Version = "dev"
	// GitSHA is the git commit SHA (overridden via -ldflags)
	GitSHA = "unknown"
)

// Info describes the running build
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GitSHA    string `json:"gitSHA" yaml:"gitSHA"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
}

// Get returns the build information
func Get() Info {
	return Info{
		Version:   Version,
		GitSHA:    GitSHA,
		GoVersion: runtime.Version(),
	}
}

// String returns a formatted version string
func String() string {
	return Version + " (" + GitSHA + ")"
}

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scpfake provides a fake netcup end user webservice for testing
package scpfake

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
)

const (
	// EndpointPath is where the webservice is mounted, as on the real host
	EndpointPath = "/SCP/WSEndUser"

	envelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNamespace  = "http://enduser.service.web.vcp.netcup.de/"

	// Fault texts the real webservice emits
	FaultValidation = "validation error"
	FaultNotAllowed = "action not allowed"

	StateOnline  = "online"
	StateOffline = "offline"

	defaultLogin    = "fake-user"
	defaultPassword = "fake-password"
)

// Server represents a fake end user webservice
type Server struct {
	router   *mux.Router
	vservers map[string]*VServer
	order    []string
	faults   map[string]string
	raw      map[string]string
	calls    map[string]int
	mu       sync.RWMutex
	logger   logr.Logger
	config   *Config
}

// Config holds fake server configuration
type Config struct {
	LoginName string
	Password  string
	// FailureMode can be "none", "random", "always"
	FailureMode string
	// FailureRate for random failures (0.0-1.0)
	FailureRate float64
	// FailureFault is the faultstring returned for simulated failures
	FailureFault string
	// Latency is added to every request
	Latency time.Duration
}

// VServer represents a fake vserver
type VServer struct {
	Name     string
	Nickname string
	State    string
	IPs      []string
}

// NewServer creates a new fake webservice seeded with two vservers
func NewServer() *Server {
	config := &Config{
		LoginName:    getEnvWithDefault("FAKE_SCP_LOGIN", defaultLogin),
		Password:     getEnvWithDefault("FAKE_SCP_PASSWORD", defaultPassword),
		FailureMode:  os.Getenv("FAKE_SCP_FAILURE_MODE"),
		FailureFault: getEnvWithDefault("FAKE_SCP_FAILURE_FAULT", "internal error"),
	}

	if rate := os.Getenv("FAKE_SCP_FAILURE_RATE"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			config.FailureRate = f
		}
	}

	if latency := os.Getenv("FAKE_SCP_LATENCY"); latency != "" {
		if d, err := time.ParseDuration(latency); err == nil {
			config.Latency = d
		}
	}

	s := &Server{
		router:   mux.NewRouter(),
		vservers: make(map[string]*VServer),
		faults:   make(map[string]string),
		raw:      make(map[string]string),
		calls:    make(map[string]int),
		logger:   logging.Global().WithName("scpfake"),
		config:   config,
	}

	s.setupRoutes()
	s.seedData()

	return s
}

// Config returns the server configuration. Changes take effect on the next request.
func (s *Server) Config() *Config {
	return s.config
}

// setupRoutes configures the fake webservice routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc(EndpointPath, s.handleSOAP).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// seedData creates some initial test data
func (s *Server) seedData() {
	s.AddVServer(VServer{
		Name:     "v2202301000000001",
		Nickname: "web",
		State:    StateOnline,
		IPs:      []string{"203.0.113.10", "2001:db8::10"},
	})
	s.AddVServer(VServer{
		Name:  "v2202301000000002",
		State: StateOffline,
		IPs:   []string{"203.0.113.11"},
	})
}

// AddVServer adds or replaces a vserver. New names are appended to the listing order.
func (s *Server) AddVServer(vs VServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vservers[vs.Name]; !exists {
		s.order = append(s.order, vs.Name)
	}
	copied := vs
	copied.IPs = append([]string(nil), vs.IPs...)
	s.vservers[vs.Name] = &copied
}

// RemoveAll deletes every vserver
func (s *Server) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vservers = make(map[string]*VServer)
	s.order = nil
}

// VServer returns a copy of the named vserver
func (s *Server) VServer(name string) (VServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.vservers[name]
	if !ok {
		return VServer{}, false
	}
	return *vs, true
}

// SetState overwrites the raw state reported for a vserver
func (s *Server) SetState(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vs, ok := s.vservers[name]; ok {
		vs.State = state
	}
}

// SetFault makes every call to operation answer with faultText. An empty
// faultText clears it.
func (s *Server) SetFault(operation, faultText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if faultText == "" {
		delete(s.faults, operation)
		return
	}
	s.faults[operation] = faultText
}

// SetRawResponse makes every call to operation answer with body verbatim
func (s *Server) SetRawResponse(operation, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[operation] = body
}

// Calls returns how many requests for operation were received
func (s *Server) Calls(operation string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[operation]
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.V(1).Info("Fake webservice request", "method", r.Method, "path", r.URL.Path)

	if s.config.Latency > 0 {
		select {
		case <-time.After(s.config.Latency):
		case <-r.Context().Done():
			return
		}
	}

	s.router.ServeHTTP(w, r)
}

// shouldFail determines if this request should fail based on configuration
func (s *Server) shouldFail() bool {
	switch s.config.FailureMode {
	case "always":
		return true
	case "random":
		return rand.Float64() < s.config.FailureRate
	default:
		return false
	}
}

// request is a decoded operation call
type request struct {
	Operation string
	Params    map[string]string
}

// handleSOAP decodes the envelope and dispatches the operation
func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeFault(w, "Client", "could not read request")
		return
	}

	req, err := parseRequest(body)
	if err != nil {
		s.writeFault(w, "Client", err.Error())
		return
	}

	s.mu.Lock()
	s.calls[req.Operation]++
	faultText, forced := s.faults[req.Operation]
	raw, hasRaw := s.raw[req.Operation]
	s.mu.Unlock()

	if hasRaw {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, raw)
		return
	}
	if forced {
		s.writeFault(w, "Server", faultText)
		return
	}
	if s.shouldFail() {
		s.writeFault(w, "Server", s.config.FailureFault)
		return
	}
	if req.Params["loginName"] != s.config.LoginName || req.Params["password"] != s.config.Password {
		s.writeFault(w, "Server", FaultValidation)
		return
	}

	values, faultText := s.dispatch(req)
	if faultText != "" {
		s.writeFault(w, "Server", faultText)
		return
	}
	s.writeResult(w, req.Operation, values)
}

// dispatch runs an authenticated operation and returns its result values or a fault
func (s *Server) dispatch(req *request) ([]string, string) {
	if req.Operation == "getVServers" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]string(nil), s.order...), ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vs, ok := s.vservers[req.Params["vserverName"]]
	if !ok {
		return nil, FaultValidation
	}

	switch req.Operation {
	case "getVServerNickname":
		return []string{vs.Nickname}, ""
	case "getVServerState":
		return []string{vs.State}, ""
	case "getVServerIPs":
		return append([]string(nil), vs.IPs...), ""
	case "vServerStart":
		if vs.State == StateOnline {
			return nil, FaultNotAllowed
		}
		vs.State = StateOnline
		return []string{"true"}, ""
	case "vServerPoweroff", "vServerACPIShutdown":
		if vs.State == StateOffline {
			return nil, FaultNotAllowed
		}
		vs.State = StateOffline
		return []string{"true"}, ""
	case "vServerACPIReboot":
		if vs.State == StateOffline {
			return []string{"false"}, ""
		}
		return []string{"true"}, ""
	case "vServerReset":
		vs.State = StateOnline
		return []string{"true"}, ""
	default:
		return nil, fmt.Sprintf("Cannot find dispatch method for {%s}%s", serviceNamespace, req.Operation)
	}
}

// parseRequest extracts the operation element inside the SOAP body and its
// direct children as parameters
func parseRequest(body []byte) (*request, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		req    *request
		depth  int
		inBody bool
		param  string
		text   bytes.Buffer
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unmarshalling error: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 2 && t.Name.Space == envelopeNamespace && t.Name.Local == "Body":
				inBody = true
			case inBody && depth == 3 && req == nil:
				if t.Name.Space != serviceNamespace {
					return nil, fmt.Errorf("unknown namespace %q", t.Name.Space)
				}
				req = &request{Operation: t.Name.Local, Params: make(map[string]string)}
			case req != nil && depth == 4:
				param = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if param != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if param != "" && depth == 4 {
				req.Params[param] = text.String()
				param = ""
			}
			if depth == 2 && inBody {
				inBody = false
			}
			depth--
		}
	}

	if req == nil {
		return nil, fmt.Errorf("no operation found in request body")
	}
	return req, nil
}

// handleHealth handles health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// writeResult writes a successful response with one return element per value
func (s *Server) writeResult(w http.ResponseWriter, operation string, values []string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" ?><S:Envelope xmlns:S="` + envelopeNamespace + `"><S:Body>`)
	buf.WriteString(`<ns2:` + operation + `Response xmlns:ns2="` + serviceNamespace + `">`)
	for _, v := range values {
		buf.WriteString("<return>")
		_ = xml.EscapeText(&buf, []byte(v))
		buf.WriteString("</return>")
	}
	buf.WriteString(`</ns2:` + operation + `Response></S:Body></S:Envelope>`)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// writeFault writes a SOAP fault. Like the real service it answers with HTTP 500.
func (s *Server) writeFault(w http.ResponseWriter, code, faultText string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" ?><S:Envelope xmlns:S="` + envelopeNamespace + `"><S:Body><S:Fault>`)
	buf.WriteString(`<faultcode>S:` + code + `</faultcode><faultstring>`)
	_ = xml.EscapeText(&buf, []byte(faultText))
	buf.WriteString(`</faultstring></S:Fault></S:Body></S:Envelope>`)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(buf.Bytes())
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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

package closer

import (
	"io"

	"github.com/go-logr/logr"
)

// CloseQuietly closes c and logs a close error at V(1) instead of returning it.
// Meant for deferred cleanup of response bodies and listeners.
func CloseQuietly(c io.Closer, log logr.Logger, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.V(1).Info("close failed", "what", what, "error", err.Error())
	}
}

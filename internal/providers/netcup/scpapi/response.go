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

package scpapi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	faultElement  = "faultstring"
	resultElement = "return"
)

// ErrMalformedResponse is returned when a response body is not an XML document
var ErrMalformedResponse = errors.New("malformed webservice response")

// Response holds the result values of a successful call, in document order
type Response struct {
	values []string
}

// Values returns every result value in document order. The slice is never nil.
func (r *Response) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// First returns the first result value, or "" when there is none
func (r *Response) First() string {
	if len(r.values) == 0 {
		return ""
	}
	return r.values[0]
}

// capture accumulates the direct text of one element of interest
type capture struct {
	text  strings.Builder
	index int
}

// ParseResponse scans a response body. When a faultstring element appears
// anywhere in the document the classified *Fault is returned and no values
// are. Otherwise the text of every return element, at any depth, is collected.
// Elements are matched by local name, whatever namespace they are in.
func ParseResponse(body []byte) (*Response, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		values  []string
		fault   *string
		sawRoot bool
		open    []*capture
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			var c *capture
			switch {
			case t.Name.Local == resultElement:
				// Slot reserved now so nested results keep start-tag order
				c = &capture{index: len(values)}
				values = append(values, "")
			case t.Name.Local == faultElement && fault == nil:
				c = &capture{index: -1}
			}
			open = append(open, c)
		case xml.CharData:
			if n := len(open); n > 0 && open[n-1] != nil {
				open[n-1].text.Write(t)
			}
		case xml.EndElement:
			n := len(open)
			if n == 0 {
				return nil, fmt.Errorf("%w: unexpected end element %s", ErrMalformedResponse, t.Name.Local)
			}
			if c := open[n-1]; c != nil {
				text := c.text.String()
				if c.index < 0 {
					fault = &text
				} else {
					values[c.index] = text
				}
			}
			open = open[:n-1]
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedResponse)
	}
	if fault != nil {
		return nil, ClassifyFault(*fault)
	}
	return &Response{values: values}, nil
}

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
	"fmt"
)

const (
	// EnvelopeNamespace is the SOAP 1.1 envelope namespace
	EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	// ServiceNamespace is the namespace of the end user webservice
	ServiceNamespace = "http://enduser.service.web.vcp.netcup.de/"

	envelopePrefix = "soapenv"
	servicePrefix  = "end"
)

// Wire parameter names
const (
	ParamLoginName   = "loginName"
	ParamPassword    = "password"
	ParamVServerName = "vserverName"
)

// Param is one named operation argument. Params are serialized in slice order.
type Param struct {
	Name  string
	Value string
}

// BuildEnvelope serializes a request for operation. The result has an empty
// header and a body holding a single end:<operation> element whose children
// are params, in order, each carrying its value as text.
func BuildEnvelope(operation string, params []Param) ([]byte, error) {
	if operation == "" {
		return nil, fmt.Errorf("operation name is required")
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	envelope := prefixed(envelopePrefix, "Envelope")
	header := prefixed(envelopePrefix, "Header")
	body := prefixed(envelopePrefix, "Body")
	op := prefixed(servicePrefix, operation)

	tokens := []xml.Token{
		xml.StartElement{
			Name: envelope,
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "xmlns:" + envelopePrefix}, Value: EnvelopeNamespace},
				{Name: xml.Name{Local: "xmlns:" + servicePrefix}, Value: ServiceNamespace},
			},
		},
		xml.StartElement{Name: header},
		xml.EndElement{Name: header},
		xml.StartElement{Name: body},
		xml.StartElement{Name: op},
	}
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter name is required for operation %s", operation)
		}
		name := xml.Name{Local: p.Name}
		tokens = append(tokens,
			xml.StartElement{Name: name},
			xml.CharData(p.Value),
			xml.EndElement{Name: name},
		)
	}
	tokens = append(tokens,
		xml.EndElement{Name: op},
		xml.EndElement{Name: body},
		xml.EndElement{Name: envelope},
	)

	for _, tok := range tokens {
		if err := enc.EncodeToken(tok); err != nil {
			return nil, fmt.Errorf("failed to encode %s envelope: %w", operation, err)
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush %s envelope: %w", operation, err)
	}

	return buf.Bytes(), nil
}

// prefixed builds a literal prefix:local name. The prefixes are declared on
// the envelope element, so the encoder must not rewrite them.
func prefixed(prefix, local string) xml.Name {
	return xml.Name{Local: prefix + ":" + local}
}

// credentials returns the leading login parameters shared by every operation
func credentials(login, password string) []Param {
	return []Param{
		{Name: ParamLoginName, Value: login},
		{Name: ParamPassword, Value: password},
	}
}

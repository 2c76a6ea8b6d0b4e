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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v2"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (table|json|yaml)", format)
}

// tablePrinter writes tab-aligned columns
type tablePrinter struct {
	tw *tabwriter.Writer
}

func (p *tablePrinter) row(columns ...string) {
	fmt.Fprintln(p.tw, strings.Join(columns, "\t"))
}

// render writes value as JSON or YAML, or calls table for the table format
func render(w io.Writer, format string, value interface{}, table func(p *tablePrinter)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case outputYAML:
		data, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		p := &tablePrinter{tw: tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)}
		table(p)
		return p.tw.Flush()
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

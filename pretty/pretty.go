// Package pretty reformats JSON, YAML and XML documents for the viewer
// endpoint. It is a stateless transform over bytes already held by the
// entry store; nothing here touches retention state.
package pretty

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

const indent = 4

// Supported reports whether the file extension belongs to a format this
// package can reformat.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml", ".xml":
		return true
	default:
		return false
	}
}

// Format reformats data according to the extension of name. It fails on
// documents that do not parse; malformed input must never be echoed back
// as if it were valid.
func Format(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return formatJSON(data)
	case ".yaml", ".yml":
		return formatYAML(data)
	case ".xml":
		return formatXML(data)
	default:
		return "", fmt.Errorf("unsupported format: %s", name)
	}
}

func formatJSON(data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", strings.Repeat(" ", indent))
	if err != nil {
		return "", fmt.Errorf("format json: %w", err)
	}

	return string(out), nil
}

func formatYAML(data []byte) (string, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse yaml: %w", err)
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(indent)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("format yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("format yaml: %w", err)
	}

	return buf.String(), nil
}

func formatXML(data []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", fmt.Errorf("parse xml: %w", err)
	}

	doc.Indent(indent)
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("format xml: %w", err)
	}

	return strings.TrimRight(out, "\n"), nil
}

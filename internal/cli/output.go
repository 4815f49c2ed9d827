package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use json or yaml)", format)
	}
}

// render writes v as indented JSON or as block YAML. YAML keeps the JSON field names and
// order by round-tripping through a yaml.Node.
func render(w io.Writer, format string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(format)) != outputYAML {
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("convert output: %w", err)
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// blockStyle clears the flow and quoting styles JSON input decodes with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

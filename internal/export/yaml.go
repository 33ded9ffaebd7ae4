package export

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLExporter writes the report as a single YAML document
type YAMLExporter struct{}

func (e *YAMLExporter) Export(report *Report, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	// Close flushes the document
	return enc.Close()
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}

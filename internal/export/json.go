package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONExporter writes the whole report as one indented JSON document
type JSONExporter struct{}

func (e *JSONExporter) Export(report *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func (e *JSONExporter) Extension() string {
	return "json"
}

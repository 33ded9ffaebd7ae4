package export

import (
	"fmt"
	"io"
)

// Exporter renders a scan report in one output format
type Exporter interface {
	Export(report *Report, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for a --format value
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "jsonl":
		return &JSONLExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported format: %s (supported: json, jsonl, yaml, md)", format)
}

package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONLExporter exports reports in JSONL format (one record per line).
// Sessions that failed to scan get a line of their own with the error.
type JSONLExporter struct{}

// Export exports a report to JSONL format
func (e *JSONLExporter) Export(report *Report, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, s := range report.Sessions {
		if s.Error != "" {
			if err := enc.Encode(map[string]interface{}{"session_id": s.SessionID, "error": s.Error}); err != nil {
				return fmt.Errorf("failed to encode error of %s: %w", s.SessionID, err)
			}
			continue
		}
		for _, rec := range s.Records {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}

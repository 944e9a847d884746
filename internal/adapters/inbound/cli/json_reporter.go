package cli

import (
	"encoding/json"
	"io"

	"github.com/openkraft/categoryassert/internal/domain"
)

type jsonReport struct {
	Results []*domain.AssemblyResult `json:"results"`
	Total   int                      `json:"total"`
}

// JSONReporter collects every result and writes one JSON document when the
// run finishes.
type JSONReporter struct {
	w      io.Writer
	report jsonReport
}

var _ domain.Reporter = (*JSONReporter)(nil)

// NewJSONReporter creates a reporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{w: w, report: jsonReport{Results: []*domain.AssemblyResult{}}}
}

// Report records one validated binary.
func (r *JSONReporter) Report(result *domain.AssemblyResult) error {
	r.report.Results = append(r.report.Results, result)
	return nil
}

// Finish writes the document.
func (r *JSONReporter) Finish(total int) error {
	r.report.Total = total
	data, err := json.MarshalIndent(r.report, "", "  ")
	if err != nil {
		return err
	}
	_, err = r.w.Write(append(data, '\n'))
	return err
}

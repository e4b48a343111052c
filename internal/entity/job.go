package entity

import (
	"time"

	"github.com/udayam-ai/extraction-gateway/constants"
)

// ExtractionJob represents one document-extraction request for data
// transfer between layers. FileName and FileURL are write-once at
// creation; Status, Result and Error are the only mutable fields.
type ExtractionJob struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id,omitempty"`
	FileName  string              `json:"file_name"`
	FileURL   string              `json:"file_url,omitempty"`
	Status    constants.JobStatus `json:"status"`
	Result    *ExtractionResult   `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// TableData is one extracted table. Row lengths are not required to
// match the header count; the engine is the source of truth for shape.
type TableData struct {
	TableName string     `json:"tableName"`
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
}

// ExtractionResult is the structured extraction output, immutable once
// produced (edits replace the whole value).
type ExtractionResult struct {
	Tables  []TableData `json:"tables"`
	Summary string      `json:"summary,omitempty"`
}

// Clone returns a deep copy so cached results cannot be mutated by callers.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := &ExtractionResult{
		Tables:  make([]TableData, len(r.Tables)),
		Summary: r.Summary,
	}
	for i, t := range r.Tables {
		ct := TableData{
			TableName: t.TableName,
			Headers:   append([]string(nil), t.Headers...),
			Rows:      make([][]string, len(t.Rows)),
		}
		for j, row := range t.Rows {
			ct.Rows[j] = append([]string(nil), row...)
		}
		out.Tables[i] = ct
	}
	return out
}

package engine

import (
	"context"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

// ExtractRequest carries one document into the extraction engine. The
// raw bytes go directly to the engine; the blob locator is never sent.
type ExtractRequest struct {
	Document       []byte
	FileName       string
	MimeType       string
	TargetLanguage string
	PreserveNames  bool
}

// StatusReport is the engine's own view of a job, used only as the
// last-resort fallback for jobs that predate the coordinator.
type StatusReport struct {
	JobID  string                   `json:"job_id"`
	Status constants.JobStatus      `json:"status"`
	Result *entity.ExtractionResult `json:"data,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// TableExtractor is the interface the coordinator depends on.
type TableExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*entity.ExtractionResult, error)
	Status(ctx context.Context, jobID string) (*StatusReport, error)
	Health(ctx context.Context) error
}

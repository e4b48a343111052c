package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/docinfo"
	"github.com/udayam-ai/extraction-gateway/internal/engine"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
	"github.com/udayam-ai/extraction-gateway/internal/jobcache"
	"github.com/udayam-ai/extraction-gateway/internal/repository"
	"github.com/udayam-ai/extraction-gateway/internal/storage"
)

// WriteMode selects the failure policy for result persistence.
// Best-effort writes log failures and move on: the cache and any
// successfully written store already hold the result. Strict writes
// surface the first failure, for user-initiated edits where silent
// data loss is unacceptable.
type WriteMode int

const (
	WriteBestEffort WriteMode = iota
	WriteStrict
)

// Coordinator drives one document through upload, extraction and
// persistence, and reconciles job state across the in-process cache,
// the durable record and the blob store.
type Coordinator struct {
	blobs  storage.BlobStore
	jobs   repository.JobRepository
	engine engine.TableExtractor
	cache  *jobcache.Cache
	log    *slog.Logger
	notify func(entity.ExtractionJob)
}

func New(blobs storage.BlobStore, jobs repository.JobRepository, eng engine.TableExtractor, cache *jobcache.Cache, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		blobs:  blobs,
		jobs:   jobs,
		engine: eng,
		cache:  cache,
		log:    logger,
	}
}

// SetNotifier registers a callback invoked on every job state change,
// used by the websocket broadcaster.
func (c *Coordinator) SetNotifier(fn func(entity.ExtractionJob)) {
	c.notify = fn
}

func (c *Coordinator) notifyUpdate(job entity.ExtractionJob) {
	if c.notify != nil {
		c.notify(job)
	}
}

// StartRequest carries one accepted upload into the coordinator.
// MIME allow-listing happens at the HTTP layer; it is not re-checked here.
type StartRequest struct {
	Document       []byte
	FileName       string
	MimeType       string
	UserID         string
	TargetLanguage string
	PreserveNames  bool
}

// StartResult is returned to the caller on success so it can poll or
// render immediately.
type StartResult struct {
	JobID   string
	FileURL string
	Result  *entity.ExtractionResult
}

// StartExtraction runs one extraction end to end, synchronously within
// the caller's request. The job id is allocated before any I/O so even
// an upload failure is attributable to a traceable id.
//
// Two concurrent identical uploads get two distinct job ids and two
// engine calls; no content-level dedup is performed.
func (c *Coordinator) StartExtraction(ctx context.Context, req StartRequest) (StartResult, error) {
	jobID := uuid.New().String()
	start := time.Now()

	pages := 0
	if strings.EqualFold(req.MimeType, "application/pdf") {
		pages = docinfo.PageCount(req.Document)
	}
	c.log.Info("coordinator.extract.start",
		"job_id", jobID,
		"req_id", common.RequestIDFromContext(ctx),
		"file_name", req.FileName,
		"bytes", len(req.Document),
		"pages", pages,
		"user_id", req.UserID,
	)

	// Step 1: persist the original. Failure aborts the whole call; no
	// job exists if we cannot keep the document.
	fileURL, err := c.blobs.Put(ctx, storage.OriginalKey(jobID, req.FileName), req.Document, req.MimeType)
	if err != nil {
		c.log.Error("coordinator.extract.upload_failed", "job_id", jobID, "error", err)
		return StartResult{}, common.NewAppError("STORAGE_FAILURE", "uploading original document failed", common.ErrStorageFailure)
	}

	job := entity.ExtractionJob{
		ID:        jobID,
		UserID:    req.UserID,
		FileName:  req.FileName,
		FileURL:   fileURL,
		Status:    constants.JobStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	// A processing entry up front lets polls during the (potentially
	// multi-minute) engine call answer without error.
	c.cache.Set(job)
	c.notifyUpdate(job)

	// A client disconnect must not abort the extraction: the engine
	// call runs to completion under its own timeout and the result is
	// persisted for a later poll to pick up.
	ctx = context.WithoutCancel(ctx)

	// Step 2: the engine gets the raw bytes, not the blob locator.
	result, err := c.engine.Extract(ctx, engine.ExtractRequest{
		Document:       req.Document,
		FileName:       req.FileName,
		MimeType:       req.MimeType,
		TargetLanguage: req.TargetLanguage,
		PreserveNames:  req.PreserveNames,
	})
	if err != nil {
		job.Status = constants.JobStatusFailed
		job.Error = err.Error()
		// Failed jobs live in the cache only: no result blob, no
		// durable write.
		c.cache.Set(job)
		c.notifyUpdate(job)
		c.log.Error("coordinator.extract.failed",
			"job_id", jobID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return StartResult{}, err
	}

	job.Status = constants.JobStatusCompleted
	job.Result = result

	// Step 3: result blob and durable record are best-effort here; the
	// cache entry set below is sufficient for read-your-writes within
	// this process, and the blob usually lands too.
	if err := c.persistResult(ctx, job, WriteBestEffort); err != nil {
		c.log.Warn("coordinator.extract.persist_degraded", "job_id", jobID, "error", err)
	}
	c.cache.Set(job)
	c.notifyUpdate(job)

	c.log.Info("coordinator.extract.ok",
		"job_id", jobID,
		"tables", len(result.Tables),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return StartResult{JobID: jobID, FileURL: fileURL, Result: result}, nil
}

// persistResult writes the job's result JSON to the blob store and
// upserts the durable record. Under WriteStrict the first failure is
// returned; under WriteBestEffort failures are logged and the next
// store is still attempted.
func (c *Coordinator) persistResult(ctx context.Context, job entity.ExtractionJob, mode WriteMode) error {
	payload, err := json.MarshalIndent(job.Result, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode result")
	}

	key := storage.ResultKey(job.ID, job.FileName)
	if _, err := c.blobs.Put(ctx, key, payload, "application/json"); err != nil {
		if mode == WriteStrict {
			return common.NewAppError("STORAGE_FAILURE", "writing result object failed", common.ErrStorageFailure)
		}
		c.log.Warn("coordinator.persist.blob_failed", "job_id", job.ID, "key", key, "error", err)
	}

	if err := c.upsertRecord(ctx, job); err != nil {
		if mode == WriteStrict {
			return common.NewAppError("STORAGE_FAILURE", "writing durable job record failed", common.ErrStorageFailure)
		}
		c.log.Warn("coordinator.persist.record_failed", "job_id", job.ID, "error", err)
	}
	return nil
}

func (c *Coordinator) upsertRecord(ctx context.Context, job entity.ExtractionJob) error {
	err := c.jobs.UpdateStatus(ctx, job.ID, job.Status, job.Result, job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return c.jobs.Create(ctx, job)
	}
	return err
}

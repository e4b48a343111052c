package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
	"github.com/udayam-ai/extraction-gateway/internal/storage"
)

// GetStatus answers "what is the state of job X" by falling back from
// the cheapest source of truth to the most expensive:
//
//	cache -> durable record -> result blob -> engine status endpoint
//
// Authoritative answers found below the cache are written back into it
// so the next poll stops at tier one.
func (c *Coordinator) GetStatus(ctx context.Context, jobID string) (entity.ExtractionJob, error) {
	if job, ok := c.cache.Get(jobID); ok {
		return job, nil
	}

	record, found, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		// Durable store unreachable: without the record we have no
		// fileName to compute blob keys, so degrade straight to the
		// engine fallback.
		c.log.Warn("reconciler.record_lookup_failed", "job_id", jobID, "error", err)
		found = false
	}
	if found {
		if record.Status.Terminal() && (record.Result != nil || record.Error != "") {
			c.cache.Set(record)
			return record, nil
		}
		if job, ok := c.probeResultBlob(ctx, record); ok {
			c.cache.Set(job)
			return job, nil
		}
		// Record exists but holds no result and no blob was found:
		// report its status as-is (pending/processing is not an error).
		return record, nil
	}

	// Legacy fallback: jobs created before this coordinator existed
	// never entered the cache/blob path.
	report, err := c.engine.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrJobNotFound) {
			return entity.ExtractionJob{}, common.ErrJobNotFound
		}
		return entity.ExtractionJob{}, err
	}
	job := entity.ExtractionJob{
		ID:     jobID,
		Status: report.Status,
		Result: report.Result,
		Error:  report.Error,
	}
	if job.Status.Terminal() {
		c.cache.Set(job)
	}
	return job, nil
}

// probeResultBlob looks for a result object under the current
// URL-encoded key and then the legacy unencoded key. First hit wins.
func (c *Coordinator) probeResultBlob(ctx context.Context, record entity.ExtractionJob) (entity.ExtractionJob, bool) {
	if record.FileName == "" {
		return entity.ExtractionJob{}, false
	}
	for _, key := range storage.ResultKeyCandidates(record.ID, record.FileName) {
		exists, err := c.blobs.Exists(ctx, key)
		if err != nil {
			c.log.Warn("reconciler.blob_probe_failed", "job_id", record.ID, "key", key, "error", err)
			continue
		}
		if !exists {
			continue
		}
		data, err := c.blobs.Get(ctx, key)
		if err != nil {
			c.log.Warn("reconciler.blob_read_failed", "job_id", record.ID, "key", key, "error", err)
			continue
		}
		var result entity.ExtractionResult
		if err := json.Unmarshal(data, &result); err != nil {
			c.log.Warn("reconciler.blob_decode_failed", "job_id", record.ID, "key", key, "error", err)
			continue
		}
		c.log.Info("reconciler.blob_hit", "job_id", record.ID, "key", key)
		job := record
		job.Status = constants.JobStatusCompleted
		job.Result = &result
		job.Error = ""
		return job, true
	}
	return entity.ExtractionJob{}, false
}

// UpdateResult replaces a job's result (manual correction). All three
// stores must reflect the edit; any partial failure is surfaced so the
// client can retry the whole edit.
func (c *Coordinator) UpdateResult(ctx context.Context, jobID string, newResult *entity.ExtractionResult) error {
	if newResult == nil {
		return common.NewAppError("VALIDATION_FAILURE", "result payload is required", common.ErrValidation)
	}

	record, found, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return common.NewAppError("STORAGE_FAILURE", "durable record lookup failed", common.ErrStorageFailure)
	}
	job := record
	if !found {
		// Reconstruct a minimal record from the cache entry, if any,
		// and create the durable row retroactively.
		cached, ok := c.cache.Get(jobID)
		if !ok {
			return common.ErrJobNotFound
		}
		job = cached
		if err := c.jobs.Create(ctx, job); err != nil {
			return common.NewAppError("STORAGE_FAILURE", "creating durable record failed", common.ErrStorageFailure)
		}
		c.log.Info("reconciler.record_reconstructed", "job_id", jobID, "file_name", job.FileName)
	}

	job.Result = newResult
	job.Status = constants.JobStatusCompleted
	job.Error = ""

	if err := c.persistResult(ctx, job, WriteStrict); err != nil {
		c.log.Error("reconciler.edit_failed", "job_id", jobID, "error", err)
		return err
	}
	// Cache refresh only after every store accepted the edit, so a
	// failed edit never leaves the cache ahead of the durable record.
	c.cache.Set(job)
	c.notifyUpdate(job)
	c.log.Info("reconciler.edit_ok", "job_id", jobID, "tables", len(newResult.Tables))
	return nil
}

// JobStats are the aggregate counters surfaced by the jobs listing.
type JobStats struct {
	Total     int
	Completed int
}

// ListJobs returns recent jobs plus aggregate stats, preferring the
// durable store and degrading to the in-process cache when the
// database is unreachable.
func (c *Coordinator) ListJobs(ctx context.Context, userID string, limit int) ([]entity.ExtractionJob, JobStats, error) {
	jobs, err := c.jobs.ListRecent(ctx, userID, limit)
	if err != nil {
		c.log.Warn("reconciler.list_degraded", "error", err)
		cached := c.cache.List(limit)
		return cached, JobStats{
			Total:     c.cache.Len(),
			Completed: c.cache.CountByStatus(constants.JobStatusCompleted),
		}, nil
	}
	total, err := c.jobs.Count(ctx)
	if err != nil {
		total = len(jobs)
	}
	completed, err := c.jobs.CountByStatus(ctx, constants.JobStatusCompleted)
	if err != nil {
		completed = 0
	}
	return jobs, JobStats{Total: total, Completed: completed}, nil
}

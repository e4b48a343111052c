package jobcache

import (
	"sync"
	"time"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

// Cache is the process-wide job map shared by the coordinator and the
// status reconciler. Per-job-id writes are last-write-wins; different
// job ids never contend beyond the single mutex. No eviction: the
// process restarts periodically, and the entries are small.
type Cache struct {
	mu    sync.RWMutex
	jobs  map[string]entity.ExtractionJob
	order []string
}

func New() *Cache {
	return &Cache{
		jobs: make(map[string]entity.ExtractionJob),
	}
}

// Set stores or replaces the entry for job.ID, stamping UpdatedAt.
func (c *Cache) Set(job entity.ExtractionJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if _, seen := c.jobs[job.ID]; !seen {
		c.order = append(c.order, job.ID)
	}
	c.jobs[job.ID] = job
}

func (c *Cache) Get(jobID string) (entity.ExtractionJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.jobs[jobID]
	if ok {
		job.Result = job.Result.Clone()
	}
	return job, ok
}

// List returns up to limit entries, most recently created first.
func (c *Cache) List(limit int) []entity.ExtractionJob {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 || limit > len(c.order) {
		limit = len(c.order)
	}
	out := make([]entity.ExtractionJob, 0, limit)
	for i := len(c.order) - 1; i >= 0 && len(out) < limit; i-- {
		job := c.jobs[c.order[i]]
		job.Result = job.Result.Clone()
		out = append(out, job)
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

func (c *Cache) CountByStatus(status constants.JobStatus) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, job := range c.jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

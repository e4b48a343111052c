package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/engine"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
	"github.com/udayam-ai/extraction-gateway/internal/jobcache"
)

type fakeBlobStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	putCalls    int
	existsCalls int
	getCalls    int
	failPut     bool
	failExists  bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.failPut {
		return "", errors.New("blob store down")
	}
	f.objects[key] = append([]byte(nil), data...)
	return "https://blobs.test/bucket/" + key, nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.failExists {
		return false, errors.New("blob store down")
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://blobs.test/signed/" + key, nil
}

type fakeJobRepo struct {
	mu         sync.Mutex
	rows       map[string]entity.ExtractionJob
	order      []string
	failWrites bool
	failReads  bool
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{rows: map[string]entity.ExtractionJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, job entity.ExtractionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("database down")
	}
	if _, seen := f.rows[job.ID]; !seen {
		f.order = append(f.order, job.ID)
	}
	f.rows[job.ID] = job
	return nil
}

func (f *fakeJobRepo) UpdateStatus(ctx context.Context, id string, status constants.JobStatus, result *entity.ExtractionResult, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("database down")
	}
	job, ok := f.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	f.rows[id] = job
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (entity.ExtractionJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return entity.ExtractionJob{}, false, errors.New("database down")
	}
	job, ok := f.rows[id]
	return job, ok, nil
}

func (f *fakeJobRepo) ListRecent(ctx context.Context, userID string, limit int) ([]entity.ExtractionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errors.New("database down")
	}
	out := make([]entity.ExtractionJob, 0, limit)
	for i := len(f.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.rows[f.order[i]])
	}
	return out, nil
}

func (f *fakeJobRepo) CountByStatus(ctx context.Context, status constants.JobStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return 0, errors.New("database down")
	}
	n := 0
	for _, job := range f.rows {
		if job.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobRepo) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return 0, errors.New("database down")
	}
	return len(f.rows), nil
}

type fakeEngine struct {
	mu           sync.Mutex
	extractCalls int
	result       *entity.ExtractionResult
	extractErr   error
	extractDelay time.Duration
	report       *engine.StatusReport
	statusErr    error
}

func (f *fakeEngine) Extract(ctx context.Context, req engine.ExtractRequest) (*entity.ExtractionResult, error) {
	f.mu.Lock()
	f.extractCalls++
	result, err, delay := f.result, f.extractErr, f.extractDelay
	f.mu.Unlock()
	if delay > 0 {
		// The real client aborts on context cancellation mid-call.
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *fakeEngine) Status(ctx context.Context, jobID string) (*engine.StatusReport, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.report, nil
}

func (f *fakeEngine) Health(ctx context.Context) error { return nil }

func sampleResult() *entity.ExtractionResult {
	return &entity.ExtractionResult{
		Tables: []entity.TableData{
			{
				TableName: "Page 1 Table 1",
				Headers:   []string{"Name", "Age"},
				Rows:      [][]string{{"Ann", "30"}, {"Ben", "42"}},
			},
		},
		Summary: "2 rows across 1 table",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestCoordinator(blobs *fakeBlobStore, repo *fakeJobRepo, eng *fakeEngine) (*Coordinator, *jobcache.Cache) {
	cache := jobcache.New()
	return New(blobs, repo, eng, cache, testLogger()), cache
}

func TestStartExtractionSuccess(t *testing.T) {
	blobs := newFakeBlobStore()
	repo := newFakeJobRepo()
	eng := &fakeEngine{result: sampleResult()}
	coord, cache := newTestCoordinator(blobs, repo, eng)

	res, err := coord.StartExtraction(context.Background(), StartRequest{
		Document:       []byte("%PDF-1.4 fake"),
		FileName:       "invoice.pdf",
		MimeType:       "application/pdf",
		UserID:         "u1",
		TargetLanguage: "en",
		PreserveNames:  true,
	})
	if err != nil {
		t.Fatalf("StartExtraction returned error: %v", err)
	}
	if res.JobID == "" {
		t.Fatal("expected a job id")
	}
	if !reflect.DeepEqual(res.Result, sampleResult()) {
		t.Fatalf("result mismatch: %+v", res.Result)
	}

	// The original document and the result object both landed.
	foundOriginal, foundResult := false, false
	for key := range blobs.objects {
		switch {
		case strings.HasPrefix(key, "originals/"+res.JobID+"/"):
			foundOriginal = true
		case strings.HasPrefix(key, "output/"+res.JobID+"/"):
			foundResult = true
		}
	}
	if !foundOriginal || !foundResult {
		t.Fatalf("missing blob writes: original=%v result=%v keys=%v", foundOriginal, foundResult, blobs.objects)
	}

	row, ok := repo.rows[res.JobID]
	if !ok {
		t.Fatal("expected a durable record")
	}
	if row.Status != constants.JobStatusCompleted {
		t.Fatalf("durable record status = %s, want completed", row.Status)
	}

	cached, ok := cache.Get(res.JobID)
	if !ok || cached.Status != constants.JobStatusCompleted {
		t.Fatalf("cache entry = %+v, %v", cached, ok)
	}
	if !reflect.DeepEqual(cached.Result, sampleResult()) {
		t.Fatalf("cached result mismatch: %+v", cached.Result)
	}
}

func TestStartExtractionUploadFailureAborts(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.failPut = true
	repo := newFakeJobRepo()
	eng := &fakeEngine{result: sampleResult()}
	coord, cache := newTestCoordinator(blobs, repo, eng)

	_, err := coord.StartExtraction(context.Background(), StartRequest{
		Document: []byte("data"),
		FileName: "doc.png",
		MimeType: "image/png",
	})
	if !errors.Is(err, common.ErrStorageFailure) {
		t.Fatalf("error = %v, want ErrStorageFailure", err)
	}
	if eng.extractCalls != 0 {
		t.Fatalf("engine called %d times after failed upload", eng.extractCalls)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("unexpected durable records: %v", repo.rows)
	}
	if cache.Len() != 0 {
		t.Fatalf("unexpected cache entries: %d", cache.Len())
	}
}

func TestStartExtractionEngineTimeout(t *testing.T) {
	blobs := newFakeBlobStore()
	repo := newFakeJobRepo()
	eng := &fakeEngine{
		extractErr: common.NewAppError("ENGINE_TIMEOUT", "engine did not respond", common.ErrEngineTimeout),
	}
	coord, cache := newTestCoordinator(blobs, repo, eng)

	_, err := coord.StartExtraction(context.Background(), StartRequest{
		Document: []byte("data"),
		FileName: "slow.pdf",
		MimeType: "application/pdf",
	})
	if !errors.Is(err, common.ErrEngineTimeout) {
		t.Fatalf("error = %v, want ErrEngineTimeout", err)
	}

	// No result blob and no durable record for a failed job.
	for key := range blobs.objects {
		if strings.HasPrefix(key, "output/") {
			t.Fatalf("result blob written for failed job: %s", key)
		}
	}
	if len(repo.rows) != 0 {
		t.Fatalf("unexpected durable records: %v", repo.rows)
	}

	jobs := cache.List(10)
	if len(jobs) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(jobs))
	}
	if jobs[0].Status != constants.JobStatusFailed || jobs[0].Error == "" {
		t.Fatalf("cached job = %+v, want failed with message", jobs[0])
	}
}

func TestStartExtractionSurvivesDurableWriteFailure(t *testing.T) {
	blobs := newFakeBlobStore()
	repo := newFakeJobRepo()
	repo.failWrites = true
	eng := &fakeEngine{result: sampleResult()}
	coord, cache := newTestCoordinator(blobs, repo, eng)

	res, err := coord.StartExtraction(context.Background(), StartRequest{
		Document: []byte("data"),
		FileName: "table.jpg",
		MimeType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("best-effort persistence should not fail the call: %v", err)
	}
	cached, ok := cache.Get(res.JobID)
	if !ok || cached.Status != constants.JobStatusCompleted {
		t.Fatalf("cache entry = %+v, %v", cached, ok)
	}
}

func TestStartExtractionSurvivesClientDisconnect(t *testing.T) {
	blobs := newFakeBlobStore()
	repo := newFakeJobRepo()
	eng := &fakeEngine{result: sampleResult(), extractDelay: 150 * time.Millisecond}
	coord, cache := newTestCoordinator(blobs, repo, eng)

	// The caller's context is canceled mid-extraction, as when the
	// uploading client disconnects.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := coord.StartExtraction(ctx, StartRequest{
		Document: []byte("data"),
		FileName: "longrunning.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("disconnect must not abort the extraction: %v", err)
	}
	if !reflect.DeepEqual(res.Result, sampleResult()) {
		t.Fatalf("result mismatch: %+v", res.Result)
	}

	cached, ok := cache.Get(res.JobID)
	if !ok || cached.Status != constants.JobStatusCompleted {
		t.Fatalf("cache entry = %+v, %v; a later poll must see the result", cached, ok)
	}
	if _, ok := blobs.objects["output/"+res.JobID+"/longrunning.pdf.json"]; !ok {
		t.Fatalf("result object missing; keys = %v", blobs.objects)
	}
}

func TestStartExtractionNotifiesOnEveryTransition(t *testing.T) {
	blobs := newFakeBlobStore()
	repo := newFakeJobRepo()
	eng := &fakeEngine{result: sampleResult()}
	coord, _ := newTestCoordinator(blobs, repo, eng)

	var statuses []constants.JobStatus
	coord.SetNotifier(func(job entity.ExtractionJob) {
		statuses = append(statuses, job.Status)
	})

	if _, err := coord.StartExtraction(context.Background(), StartRequest{
		Document: []byte("data"),
		FileName: "doc.pdf",
		MimeType: "application/pdf",
	}); err != nil {
		t.Fatalf("StartExtraction: %v", err)
	}
	want := []constants.JobStatus{constants.JobStatusProcessing, constants.JobStatusCompleted}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("notified statuses = %v, want %v", statuses, want)
	}
}

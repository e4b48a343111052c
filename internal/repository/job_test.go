package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

func newTestRepo(t *testing.T) JobRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// In-memory sqlite gives each connection its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo, err := NewJobRepository(context.Background(), db, ":memory:", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func testJob(id string) entity.ExtractionJob {
	return entity.ExtractionJob{
		ID:       id,
		UserID:   "u1",
		FileName: "invoice.pdf",
		FileURL:  "https://blobs.test/bucket/originals/" + id + "/invoice.pdf",
		Status:   constants.JobStatusProcessing,
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job, found, err := repo.GetByID(ctx, "j1")
	if err != nil || !found {
		t.Fatalf("GetByID: found=%v err=%v", found, err)
	}
	if job.FileName != "invoice.pdf" || job.Status != constants.JobStatusProcessing {
		t.Fatalf("job = %+v", job)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatalf("timestamps = %v / %v", job.CreatedAt, job.UpdatedAt)
	}

	_, found, err = repo.GetByID(ctx, "absent")
	if err != nil {
		t.Fatalf("GetByID absent: %v", err)
	}
	if found {
		t.Fatal("found a job that was never created")
	}
}

func TestUpdateStatusPersistsResult(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := &entity.ExtractionResult{
		Tables: []entity.TableData{
			{TableName: "T1", Headers: []string{"A", "B"}, Rows: [][]string{{"1", "2"}}},
		},
		Summary: "one table",
	}
	if err := repo.UpdateStatus(ctx, "j1", constants.JobStatusCompleted, result, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	job, _, err := repo.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if !reflect.DeepEqual(job.Result, result) {
		t.Fatalf("result = %+v, want %+v", job.Result, result)
	}
}

func TestUpdateStatusMissingRow(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.UpdateStatus(context.Background(), "absent", constants.JobStatusCompleted, nil, "")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestListRecentOrderAndFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		job := testJob(id)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		job.UpdatedAt = job.CreatedAt
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	other := testJob("other-user")
	other.UserID = "u2"
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	jobs, err := repo.ListRecent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].ID != "mid" {
		t.Fatalf("jobs = %+v", jobs)
	}

	all, err := repo.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all = %d, want 4", len(all))
	}
}

func TestCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, testJob(id)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.UpdateStatus(ctx, "a", constants.JobStatusCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "b", constants.JobStatusFailed, nil, "engine timeout"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	total, err := repo.Count(ctx)
	if err != nil || total != 3 {
		t.Fatalf("Count = %d, %v", total, err)
	}
	completed, err := repo.CountByStatus(ctx, constants.JobStatusCompleted)
	if err != nil || completed != 1 {
		t.Fatalf("CountByStatus = %d, %v", completed, err)
	}
}

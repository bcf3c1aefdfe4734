package staging

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedJob(t *testing.T, repo *Repo, id string, mutate func(*Job)) *Job {
	t.Helper()
	j := &Job{
		ID:               id,
		UserID:           1,
		RoomType:         "living-room",
		FurnitureStyle:   "modern",
		OriginalImageURL: "https://store/original.jpg",
		Provider:         "replicate",
		Status:           StatusPending,
	}
	if mutate != nil {
		mutate(j)
	}
	if err := repo.Create(context.Background(), j); err != nil {
		t.Fatalf("create job %s: %v", id, err)
	}
	return j
}

func TestRepo_AdvanceStatusIsForwardOnly(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	seedJob(t, repo, "J1", nil)

	ok, err := repo.AdvanceStatus(ctx, "J1", StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("pending->processing: ok=%v err=%v", ok, err)
	}
	ok, err = repo.AdvanceStatus(ctx, "J1", StatusPreprocessing)
	if err != nil || ok {
		t.Fatalf("processing->preprocessing must not apply: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.AdvanceStatus(ctx, "J1", StatusProcessing)
	if ok {
		t.Fatalf("processing->processing must not apply")
	}
	ok, _ = repo.AdvanceStatus(ctx, "J1", StatusUploading)
	if !ok {
		t.Fatalf("processing->uploading should apply")
	}
}

func TestRepo_TerminalTransitionFirstWriterWins(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	seedJob(t, repo, "J1", func(j *Job) { j.Status = StatusProcessing })
	at := time.Now()

	ok, err := repo.CompleteJob(ctx, "J1", "https://store/a.png", 1500, at)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	ok, err = repo.FailJob(ctx, "J1", "late failure", 2000, at)
	if err != nil || ok {
		t.Fatalf("fail after complete must be a no-op: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.CompleteJob(ctx, "J1", "https://store/b.png", 2000, at)
	if ok {
		t.Fatalf("second complete must be a no-op")
	}

	j, err := repo.GetByID(ctx, "J1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusCompleted || *j.StagedImageURL != "https://store/a.png" || j.ErrorMessage != nil {
		t.Fatalf("unexpected record: %+v", j)
	}
	if j.ProcessingTimeMs == nil || *j.ProcessingTimeMs != 1500 {
		t.Fatalf("processing time not kept from first write")
	}
	ok, _ = repo.AdvanceStatus(ctx, "J1", StatusUploading)
	if ok {
		t.Fatalf("terminal job must not advance")
	}
}

func TestRepo_LookupByProviderHandle(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	seedJob(t, repo, "J1", nil)
	seedJob(t, repo, "J2", nil)

	if err := repo.AttachProviderHandle(ctx, "J2", "pred-123"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	j, err := repo.GetByProviderHandle(ctx, "replicate", "pred-123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if j.ID != "J2" {
		t.Fatalf("got %s, want J2", j.ID)
	}
	if _, err := repo.GetByProviderHandle(ctx, "other", "pred-123"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRepo_VersionGroupWrites(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	seedJob(t, repo, "A", func(j *Job) { j.IsPrimaryVersion = true })

	ok, err := repo.AssignVersionGroup(ctx, "A", "g1")
	if err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.AssignVersionGroup(ctx, "A", "g2")
	if ok {
		t.Fatalf("group must only be assigned once")
	}

	g := "g1"
	seedJob(t, repo, "B", func(j *Job) { j.VersionGroupID = &g })

	if err := repo.ClearPrimary(ctx, "g1", "B"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := repo.SetPrimary(ctx, "B"); err != nil {
		t.Fatalf("set: %v", err)
	}
	jobs, err := repo.ListByVersionGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "A" || jobs[1].ID != "B" {
		t.Fatalf("unexpected group listing: %+v", jobs)
	}
	if jobs[0].IsPrimaryVersion || !jobs[1].IsPrimaryVersion {
		t.Fatalf("expected only B primary")
	}

	if err := repo.SetPrimary(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

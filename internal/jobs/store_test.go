package jobs

import (
	"errors"
	"testing"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()
	s := memStore(t)

	job, err := s.Create(TypeProcessSession, map[string]any{"session_id": "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusPending || job.CurrentStep != "init" {
		t.Errorf("new job = %+v", job)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	input, err := got.Input()
	if err != nil {
		t.Fatal(err)
	}
	if input["session_id"] != "s1" {
		t.Errorf("input = %v", input)
	}

	if err := s.SetStatus(job.ID, StatusRunning, "starting"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStep(job.ID, "diarization"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(job.ID)
	if got.Status != StatusRunning || got.CurrentStep != "diarization" {
		t.Errorf("job = %+v", got)
	}
	if !got.UpdatedAt.After(job.UpdatedAt) && !got.UpdatedAt.Equal(job.UpdatedAt) {
		t.Error("updated_at must move forward")
	}

	if err := s.Complete(job.ID, map[string]any{"language": "sv"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(job.ID)
	if got.Status != StatusCompleted || got.CurrentStep != "done" {
		t.Errorf("completed job = %+v", got)
	}
	if got.ResultData == "" {
		t.Error("result must be persisted with completion")
	}
	if !got.Terminal() {
		t.Error("completed is terminal")
	}
}

func TestStoreFail(t *testing.T) {
	t.Parallel()
	s := memStore(t)

	job, _ := s.Create(TypeReinterpret, nil)
	if err := s.Fail(job.ID, "ffmpeg saknas"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(job.ID)
	if got.Status != StatusFailed || got.Error != "ffmpeg saknas" {
		t.Errorf("failed job = %+v", got)
	}
}

func TestStoreNotFound(t *testing.T) {
	t.Parallel()
	s := memStore(t)

	if _, err := s.Get("saknas"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v", err)
	}
	if err := s.SetStatus("saknas", StatusRunning, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus = %v", err)
	}
}

func TestStoreUnfinished(t *testing.T) {
	t.Parallel()
	s := memStore(t)

	a, _ := s.Create(TypeProcessSession, nil)
	b, _ := s.Create(TypeProcessSession, nil)
	done, _ := s.Create(TypeProcessSession, nil)
	_ = s.SetStatus(b.ID, StatusRunning, "confidence")
	_ = s.Complete(done.ID, nil)

	list, err := s.Unfinished()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("unfinished = %+v", list)
	}
	if list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("order = %s, %s (want oldest first)", list[0].ID, list[1].ID)
	}
}

package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/core/models"
)

type fakeRepo struct {
	captures []models.Capture
	deleted  []uint
}

func (r *fakeRepo) GetCapturesBefore(t time.Time) ([]models.Capture, error) {
	var out []models.Capture
	for _, c := range r.captures {
		if c.CapturedAt.Before(t) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteCapture(id uint) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func TestNewService_Disabled(t *testing.T) {
	if s := NewService(nil, nil, 0, time.Hour); s != nil {
		t.Errorf("expected nil service when retention is disabled")
	}
	var s *Service
	if n := s.RunCleanupCycle(); n != 0 {
		t.Errorf("nil service removed %d captures", n)
	}
	s.StartBackgroundCleanup()
	s.StopBackgroundCleanup()
}

func TestRunCleanupCycle(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store, err := capture.NewStore(filepath.Join(dir, "captures"), filepath.Join(dir, "tmp"), time.UTC)
	if err != nil {
		t.Fatal(err)
	}

	old := now.AddDate(0, 0, -10)
	orphan := now.AddDate(0, 0, -9)
	recent := now.AddDate(0, 0, -1)
	for _, at := range []time.Time{old, orphan, recent} {
		if err := os.WriteFile(store.Path(capture.FormatFilename(at, 1)), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	repo := &fakeRepo{captures: []models.Capture{
		{Filename: capture.FormatFilename(old, 1), CapturedAt: old},
		{Filename: capture.FormatFilename(recent, 1), CapturedAt: recent},
	}}
	repo.captures[0].ID = 1
	repo.captures[1].ID = 2

	s := NewService(repo, store, 7, time.Hour)
	s.now = func() time.Time { return now }

	if n := s.RunCleanupCycle(); n != 2 {
		t.Errorf("expected 2 removed captures, got %d", n)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != 1 {
		t.Errorf("unexpected deleted records %v", repo.deleted)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != capture.FormatFilename(recent, 1) {
		t.Errorf("unexpected remaining captures %+v", entries)
	}
}

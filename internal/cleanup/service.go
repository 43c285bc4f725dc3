package cleanup

import (
	"time"

	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Repository is the part of the capture database the cleanup needs
type Repository interface {
	GetCapturesBefore(t time.Time) ([]models.Capture, error)
	DeleteCapture(id uint) error
}

// Files is the capture store as seen by the cleanup
type Files interface {
	List() ([]capture.Entry, error)
	Remove(name string) error
}

// Service deletes captures older than the retention period
type Service struct {
	repo          Repository
	files         Files
	retentionDays int
	checkInterval time.Duration
	stopChan      chan struct{}
	now           func() time.Time
}

// NewService returns nil when cleanup is disabled (retentionDays <= 0).
// repo may be nil, then only files are removed.
func NewService(repo Repository, files Files, retentionDays int, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil
	}
	if files == nil {
		log.Error("Cannot initialize cleanup service: capture store is nil")
		return nil
	}
	log.Infof("Initializing cleanup service: RetentionDays=%d, CheckInterval=%s", retentionDays, checkInterval)
	return &Service{
		repo:          repo,
		files:         files,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
		now:           time.Now,
	}
}

// StartBackgroundCleanup runs a cycle now and then every check interval
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		// Sofort eine erste Bereinigung durchführen
		s.RunCleanupCycle()

		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunCleanupCycle()
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup stops the background routine
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// RunCleanupCycle deletes records and files older than the retention period
// and returns how many captures were removed
func (s *Service) RunCleanupCycle() int {
	if s == nil || s.retentionDays <= 0 {
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: deleting captures older than %s", cutoff.Format(time.RFC3339))

	deleted := 0
	removedFiles := make(map[string]bool)

	if s.repo != nil {
		captures, err := s.repo.GetCapturesBefore(cutoff)
		if err != nil {
			log.Errorf("Cleanup: error finding old captures: %v", err)
		}
		for _, c := range captures {
			// Erst die Datei löschen, dann den Datenbankeintrag
			if err := s.files.Remove(c.Filename); err != nil {
				log.Errorf("Cleanup: failed to delete file %s: %v", c.Filename, err)
				continue
			}
			removedFiles[c.Filename] = true
			if err := s.repo.DeleteCapture(c.ID); err != nil {
				log.Errorf("Cleanup: failed to delete capture record %d: %v", c.ID, err)
				continue
			}
			deleted++
		}
	}

	// Files without a record, e.g. when the database write failed
	entries, err := s.files.List()
	if err != nil {
		log.Errorf("Cleanup: failed to list capture files: %v", err)
		return deleted
	}
	for _, e := range entries {
		if removedFiles[e.Name] || !e.CapturedAt.Before(cutoff) {
			continue
		}
		if err := s.files.Remove(e.Name); err != nil {
			log.Errorf("Cleanup: failed to delete file %s: %v", e.Name, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Infof("Cleanup: removed %d capture(s)", deleted)
	} else {
		log.Debug("Cleanup: nothing to delete")
	}
	return deleted
}

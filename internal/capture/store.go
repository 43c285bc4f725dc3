package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxSequence bounds the number of captures accepted within a single second
const maxSequence = 1000

// ErrCaptureExhausted is returned when every sequence slot of a second is taken
var ErrCaptureExhausted = errors.New("no free capture filename for this second")

// Entry is a capture file found in the store
type Entry struct {
	Name       string
	CapturedAt time.Time
}

// Store manages the capture directory and the staging area for uploads
type Store struct {
	dir     string
	tempDir string
	loc     *time.Location
}

// NewStore creates the capture and temp directories if needed
func NewStore(dir, tempDir string, loc *time.Location) (*Store, error) {
	if tempDir == "" {
		tempDir = filepath.Join(dir, ".tmp")
	}
	for _, d := range []string{dir, tempDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory %s: %w", d, err)
		}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{dir: dir, tempDir: tempDir, loc: loc}, nil
}

// Dir returns the permanent capture directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute location of a capture file
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Stage writes upload bytes to a unique temporary file and returns its path
func (s *Store) Stage(data []byte) (string, error) {
	path := filepath.Join(s.tempDir, "upload-"+uuid.NewString()+filenameExt)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temporary capture: %w", err)
	}
	return path, nil
}

// Discard removes a staged file; a missing file is not an error
func (s *Store) Discard(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove temporary capture: %w", err)
	}
	return nil
}

// Commit moves a staged file into the capture directory under a timestamp name.
// The name is reserved with O_EXCL first so concurrent commits in the same second
// end up with distinct sequence suffixes.
func (s *Store) Commit(tempPath string, at time.Time) (string, error) {
	at = at.In(s.loc)
	for seq := 1; seq <= maxSequence; seq++ {
		name := FormatFilename(at, seq)
		final := filepath.Join(s.dir, name)

		f, err := os.OpenFile(final, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to reserve capture filename: %w", err)
		}
		f.Close()

		if err := os.Rename(tempPath, final); err != nil {
			// temp dir on another filesystem
			if cerr := copyFile(tempPath, final); cerr != nil {
				os.Remove(final)
				return "", fmt.Errorf("failed to move capture into place: %w", cerr)
			}
			os.Remove(tempPath)
		}
		return name, nil
	}
	return "", ErrCaptureExhausted
}

// List returns every capture whose filename carries a parseable timestamp
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read capture directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), filenameExt) {
			continue
		}
		t, err := ParseFilename(de.Name(), s.loc)
		if err != nil {
			log.Debugf("Skipping file in capture directory: %v", err)
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), CapturedAt: t})
	}
	return entries, nil
}

// Remove deletes a capture file
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

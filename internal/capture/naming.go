package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	filenamePrefix = "image_"
	filenameExt    = ".jpg"
	// TimestampLayout is the capture timestamp as it appears in filenames
	TimestampLayout = "2006-01-02_15-04-05"
)

// FormatFilename builds the capture filename for t. Sequence numbers above 1
// disambiguate captures that fall into the same second.
func FormatFilename(t time.Time, seq int) string {
	ts := t.Format(TimestampLayout)
	if seq <= 1 {
		return filenamePrefix + ts + filenameExt
	}
	return fmt.Sprintf("%s%s_%d%s", filenamePrefix, ts, seq, filenameExt)
}

// ParseFilename extracts the capture timestamp from a name produced by FormatFilename
func ParseFilename(name string, loc *time.Location) (time.Time, error) {
	if !strings.HasPrefix(name, filenamePrefix) || !strings.HasSuffix(name, filenameExt) {
		return time.Time{}, fmt.Errorf("not a capture filename: %q", name)
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, filenamePrefix), filenameExt)
	if len(core) < len(TimestampLayout) {
		return time.Time{}, fmt.Errorf("not a capture filename: %q", name)
	}

	if rest := core[len(TimestampLayout):]; rest != "" {
		if !strings.HasPrefix(rest, "_") {
			return time.Time{}, fmt.Errorf("not a capture filename: %q", name)
		}
		if seq, err := strconv.Atoi(rest[1:]); err != nil || seq < 2 {
			return time.Time{}, fmt.Errorf("invalid sequence suffix in %q", name)
		}
	}

	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimestampLayout, core[:len(TimestampLayout)], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp in %q: %w", name, err)
	}
	return t, nil
}

// HumanTimestamp renders t the way the remote log expects it ("2006-01-02 15-04-05")
func HumanTimestamp(t time.Time) string {
	return strings.Replace(t.Format(TimestampLayout), "_", " ", 1)
}

package capture

import (
	"sort"
	"time"
)

// CurrentTimeLayout formats the cache-busting timestamp handed to the gallery template
const CurrentTimeLayout = "20060102150405"

// Gallery is the view model of the index page
type Gallery struct {
	Images      []Entry
	Latest      string // capture closest in time to now, empty when there are none
	CurrentTime string
}

// BuildGallery sorts captures newest first and picks the one nearest to now.
// On equal distance the newer capture wins.
func BuildGallery(entries []Entry, now time.Time) Gallery {
	images := make([]Entry, len(entries))
	copy(images, entries)
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].CapturedAt.Equal(images[j].CapturedAt) {
			return images[i].Name > images[j].Name
		}
		return images[i].CapturedAt.After(images[j].CapturedAt)
	})

	g := Gallery{
		Images:      images,
		CurrentTime: now.Format(CurrentTimeLayout),
	}

	var best time.Duration
	for i, img := range images {
		d := absDuration(img.CapturedAt.Sub(now))
		if i == 0 || d < best {
			best = d
			g.Latest = img.Name
		}
	}
	return g
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

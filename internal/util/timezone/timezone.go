package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	currentLocation *time.Location
	mu              sync.RWMutex
)

// Initialize sets the location used for capture timestamps.
// An empty name falls back to the TZ environment variable, then to the host's local zone.
func Initialize(name string) {
	if name == "" {
		name = os.Getenv("TZ")
	}

	loc := time.Local
	if name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			log.Warnf("Failed to load timezone %s: %v. Falling back to local time.", name, err)
		} else {
			loc = l
			log.Infof("Timezone set to %s", name)
		}
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location returns the configured location, local time if Initialize was never called
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	if currentLocation == nil {
		return time.Local
	}
	return currentLocation
}

// Now returns the current time in the configured location
func Now() time.Time {
	return time.Now().In(Location())
}

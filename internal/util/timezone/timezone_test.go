package timezone

import (
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	Initialize("Europe/Berlin")
	if got := Location().String(); got != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %s", got)
	}
	if Now().Location().String() != "Europe/Berlin" {
		t.Errorf("Now() not in configured location")
	}

	Initialize("Not/AZone")
	if Location() != time.Local {
		t.Errorf("expected fallback to local time for an invalid zone")
	}
}

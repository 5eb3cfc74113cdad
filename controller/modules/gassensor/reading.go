package gassensor

import (
	"fmt"
	"time"
)

// BatchSize is the number of readings taken per sampling cycle.
const BatchSize = 3

// Reading is one analog sample. A zero CapturedAt means the wall clock was not
// synced when the sample was taken.
type Reading struct {
	Raw        int       `json:"raw"`
	PPM        float64   `json:"ppm"`
	CapturedAt time.Time `json:"captured_at"`
}

func (r Reading) Synced() bool { return !r.CapturedAt.IsZero() }

func (r Reading) String() string {
	at := "unset"
	if r.Synced() {
		at = r.CapturedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("raw=%d ppm=%.3f at=%s", r.Raw, r.PPM, at)
}

type Batch []Reading

func (b Batch) Complete() bool { return len(b) == BatchSize }

package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/reef-pi/aqnode/controller/modules/gassensor"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func batch(ts time.Time, raws ...int) gassensor.Batch {
	var b gassensor.Batch
	for i, r := range raws {
		at := ts
		if !ts.IsZero() {
			at = ts.Add(time.Duration(i) * time.Second)
		}
		b = append(b, gassensor.Reading{Raw: r, PPM: float64(r) / 100, CapturedAt: at})
	}
	return b
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(batch(epoch, 100, 110, 105), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if s.MeanRaw != 105 {
		t.Error("expected mean raw 105, got", s.MeanRaw)
	}
	if want := (1.0 + 1.1 + 1.05) / 3; s.MeanPPM != want {
		t.Errorf("expected mean ppm %v, got %v", want, s.MeanPPM)
	}
	if !s.BatchTimestamp.Equal(epoch) {
		t.Error("batch timestamp should be the first reading's, got", s.BatchTimestamp)
	}
	rec := s.Record()
	if rec.RawAnalog != 105 || rec.ReadAt != epoch.Unix() {
		t.Error("unexpected record:", rec)
	}
}

func TestSummarizeTruncates(t *testing.T) {
	s, err := Summarize(batch(epoch, 100, 100, 101), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if s.MeanRaw != 100 {
		t.Error("mean raw should truncate, got", s.MeanRaw)
	}
}

func TestSummarizePartial(t *testing.T) {
	for _, b := range []gassensor.Batch{nil, batch(epoch, 1, 2), batch(epoch, 1, 2, 3, 4)} {
		if _, err := Summarize(b, time.Time{}); !errors.Is(err, ErrPartialBatch) {
			t.Errorf("batch of %d should be rejected, got %v", len(b), err)
		}
	}
}

func TestSummarizeUnsynced(t *testing.T) {
	s, err := Summarize(batch(time.Time{}, 100, 110, 105), epoch)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BatchTimestamp.Equal(epoch) {
		t.Error("unset timestamp should fall back to the previous known one")
	}
	s, err = Summarize(batch(time.Time{}, 100, 110, 105), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Record().ReadAt != 0 {
		t.Error("readAt should be 0 when no time is known")
	}
}

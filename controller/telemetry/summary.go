package telemetry

import (
	"time"

	"github.com/pkg/errors"

	"github.com/reef-pi/aqnode/controller/modules/gassensor"
)

var ErrPartialBatch = errors.New("partial batch")

// Summary condenses one batch for upload.
type Summary struct {
	MeanPPM        float64
	MeanRaw        int
	BatchTimestamp time.Time
}

// Record is the wire form appended to the device path.
type Record struct {
	PPM       float64 `json:"ppm"`
	RawAnalog int     `json:"rawAnalog"`
	ReadAt    int64   `json:"readAt"`
}

// Record renders the summary. ReadAt is Unix seconds, 0 when no time is known.
func (s Summary) Record() Record {
	var at int64
	if !s.BatchTimestamp.IsZero() {
		at = s.BatchTimestamp.Unix()
	}
	return Record{PPM: s.MeanPPM, RawAnalog: s.MeanRaw, ReadAt: at}
}

// Summarize computes the means of a complete batch. MeanRaw truncates toward
// zero. The batch timestamp is the first reading's, or previous when that
// reading was taken before clock sync.
func Summarize(batch gassensor.Batch, previous time.Time) (Summary, error) {
	if !batch.Complete() {
		return Summary{}, errors.Wrapf(ErrPartialBatch, "got %d of %d readings", len(batch), gassensor.BatchSize)
	}
	var (
		sumRaw int
		sumPPM float64
	)
	for _, r := range batch {
		sumRaw += r.Raw
		sumPPM += r.PPM
	}
	ts := batch[0].CapturedAt
	if ts.IsZero() {
		ts = previous
	}
	return Summary{
		MeanPPM:        sumPPM / float64(len(batch)),
		MeanRaw:        sumRaw / len(batch),
		BatchTimestamp: ts,
	}, nil
}

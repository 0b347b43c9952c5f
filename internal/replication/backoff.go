package replication

import (
	"time"

	"github.com/cenkalti/backoff"
)

// fixedSchedule is a backoff.BackOff that walks a fixed capped
// sequence of delays instead of compounding a multiplier, so the
// connect retry follows the exact 1,2,4,8,16,32s progression while
// still going through cenkalti/backoff's Retry driver.
type fixedSchedule struct {
	schedule []time.Duration
	i        int
}

func newFixedSchedule(schedule []time.Duration) *fixedSchedule {
	return &fixedSchedule{schedule: schedule}
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	d := f.schedule[f.i]
	if f.i < len(f.schedule)-1 {
		f.i++
	}
	return d
}

func (f *fixedSchedule) Reset() { f.i = 0 }

var _ backoff.BackOff = (*fixedSchedule)(nil)

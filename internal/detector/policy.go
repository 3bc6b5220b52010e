package detector

import (
	"time"
)

// RetrainPolicy decides when a model family must be retrained.
type RetrainPolicy struct {
	Interval time.Duration
}

// ShouldRetrain reports whether training should run: never trained, forced,
// or the last training is at least Interval old.
func (p RetrainPolicy) ShouldRetrain(lastTrained time.Time, trained, force bool, now time.Time) bool {
	if force || !trained {
		return true
	}
	return now.Sub(lastTrained) >= p.Interval
}

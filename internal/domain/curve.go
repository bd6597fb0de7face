package domain

import (
	"errors"
	"fmt"
	"time"
)

// Curve is the ordered list of delays between repetitions. Index i is the
// delay from the i-th confirmation to the next nudge; stepping past the end
// means the topic is mastered.
type Curve []time.Duration

// DefaultCurve follows the classic forgetting-curve intervals.
func DefaultCurve() Curve {
	return Curve{
		time.Hour,
		24 * time.Hour,
		4 * 24 * time.Hour,
		7 * 24 * time.Hour,
		30 * 24 * time.Hour,
		90 * 24 * time.Hour,
		180 * 24 * time.Hour,
	}
}

// Delay returns the delay for repetition index i.
func (c Curve) Delay(i int) (time.Duration, error) {
	if i < 0 || i >= len(c) {
		return 0, fmt.Errorf("%w: index %d of %d", ErrCurveExhausted, i, len(c))
	}
	return c[i], nil
}

// Validate rejects empty curves and non-positive steps.
func (c Curve) Validate() error {
	if len(c) == 0 {
		return errors.New("empty repetition curve")
	}
	for i, d := range c {
		if d <= 0 {
			return fmt.Errorf("curve step %d is not positive: %s", i, d)
		}
	}
	return nil
}

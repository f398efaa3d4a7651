package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowthAndJitterBounds(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour}

	// Each attempt's delay lands inside ±20% of the doubled base.
	for attempt, want := range map[int]time.Duration{
		1: 30 * time.Second,
		2: 60 * time.Second,
		3: 120 * time.Second,
		4: 240 * time.Second,
	} {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(want)*0.8), "attempt %d", attempt)
			assert.LessOrEqual(t, d, time.Duration(float64(want)*1.2), "attempt %d", attempt)
		}
	}
}

func TestBackoff_CapsAtMaximum(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour}

	// 30s * 2^19 is far past the cap.
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.Delay(20), time.Hour)
	}
}

func TestBackoff_InvalidAttemptTreatedAsFirst(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour}
	d := b.Delay(0)
	assert.GreaterOrEqual(t, d, time.Duration(float64(30*time.Second)*0.8))
	assert.LessOrEqual(t, d, time.Duration(float64(30*time.Second)*1.2))
}

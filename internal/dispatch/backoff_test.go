package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_GrowsExponentiallyUpToCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDelay := 2 * time.Second

	d0 := backoffDelay(0, base, capDelay, 0)
	d1 := backoffDelay(1, base, capDelay, 0)
	d2 := backoffDelay(2, base, capDelay, 0)

	assert.Equal(t, 100*time.Millisecond, d0)
	assert.Equal(t, 200*time.Millisecond, d1)
	assert.Equal(t, 400*time.Millisecond, d2)
}

func TestBackoffDelay_RespectsCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDelay := 300 * time.Millisecond

	d := backoffDelay(10, base, capDelay, 0)
	assert.Equal(t, capDelay, d)
}

func TestBackoffDelay_JitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	capDelay := 2 * time.Second

	for i := 0; i < 50; i++ {
		d := backoffDelay(1, base, capDelay, 25)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 250*time.Millisecond) // 200ms +25%
	}
}

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Base: time.Second, Max: 8 * time.Second, Jitter: 0}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(10))
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	p := Policy{Base: time.Second, Max: 8 * time.Second, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, time.Duration(float64(4*time.Second)*0.8))
		assert.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.2))
	}
}

func TestRetrierResetsAttemptCount(t *testing.T) {
	r := NewRetrier(Policy{Base: time.Second, Max: 64 * time.Second, Jitter: 0})
	first := r.Next()
	second := r.Next()
	assert.Less(t, first, second)

	r.Reset()
	again := r.Next()
	assert.Equal(t, first, again)
}

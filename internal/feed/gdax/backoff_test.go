package gdax

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, 500*time.Millisecond, b.Next(4), "capped at Max")
	assert.Equal(t, 500*time.Millisecond, b.Next(10))
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2, Jitter: 0.5}

	for range 50 {
		wait := b.Next(3)
		assert.GreaterOrEqual(t, wait, 50*time.Millisecond)
		assert.LessOrEqual(t, wait, 150*time.Millisecond)
	}
}

func TestBackoffZeroValueUsable(t *testing.T) {
	var b Backoff
	wait := b.Next(1)
	assert.Positive(t, wait)

	// Hostile attempt numbers still produce a wait.
	assert.Positive(t, b.Next(-3))
}

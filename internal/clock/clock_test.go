package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedAdvance(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestDayUsesLocation(t *testing.T) {
	kl := time.FixedZone("MYT", 8*60*60)
	// 17:30 UTC is already the next day in Kuala Lumpur.
	ts := time.Date(2026, 10, 14, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, kl), Day(ts, kl))
	assert.False(t, SameDay(ts, time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), kl))
	assert.True(t, SameDay(ts, time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC), kl))
}

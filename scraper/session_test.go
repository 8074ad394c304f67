package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	s := NewSession(30 * time.Minute)
	s.now = func() time.Time { return now }

	assert.False(t, s.Authenticated())

	s.MarkAuthenticated()
	assert.True(t, s.Authenticated())

	// Still valid just under the timeout.
	now = now.Add(29 * time.Minute)
	assert.True(t, s.Authenticated())

	// Lazy expiry at the timeout boundary.
	now = now.Add(time.Minute)
	assert.False(t, s.Authenticated())

	// Expired stays expired even if time rolls on.
	now = now.Add(time.Minute)
	assert.False(t, s.Authenticated())
}

func TestSessionReset(t *testing.T) {
	s := NewSession(0)
	s.MarkAuthenticated()
	assert.True(t, s.Authenticated())

	s.Reset()
	assert.False(t, s.Authenticated())
	assert.Zero(t, s.Age())
}

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerCooldown(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(time.Minute)
	assert.True(t, b.Allow(now))

	b.Trip(now)
	assert.False(t, b.Allow(now.Add(30*time.Second)))
	st := b.Status(now.Add(30 * time.Second))
	assert.True(t, st.Open)
	assert.Equal(t, now.Add(time.Minute), st.RetryAfter)

	assert.True(t, b.Allow(now.Add(time.Minute)))
	assert.False(t, b.Status(now.Add(time.Minute)).Open)
	assert.Equal(t, now, b.Status(now).LastTrip)

	b.Trip(now)
	b.Reset()
	assert.True(t, b.Allow(now))
}

func TestWriteCacheIgnoresVolatileFields(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewWriteCache(time.Minute)
	first := map[string]any{"cliente": "ACME", "updatedAt": now, "userId": "u1", "tenantId": "t1"}
	c.Mark("t1/intake/1", first, now)

	again := map[string]any{"cliente": "ACME", "updatedAt": now.Add(time.Second), "userId": "u2", "tenantId": "t1"}
	assert.True(t, c.Unchanged("t1/intake/1", again, now.Add(time.Second)))
	assert.False(t, c.Unchanged("t1/intake/2", again, now))
	assert.False(t, c.Unchanged("t1/intake/1", map[string]any{"cliente": "Other"}, now))
	assert.False(t, c.Unchanged("t1/intake/1", again, now.Add(2*time.Minute)))

	c.Mark("t1/intake/1", first, now)
	c.Forget("t1/intake/1")
	assert.False(t, c.Unchanged("t1/intake/1", first, now))
}

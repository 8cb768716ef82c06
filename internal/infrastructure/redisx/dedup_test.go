package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Hour)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "evt_1"))
	require.NoError(t, d.Mark(ctx, "evt_1"))
	seen, _ = d.Seen(ctx, "evt_1")
	assert.True(t, seen)

	now = now.Add(2 * time.Hour)
	seen, _ = d.Seen(ctx, "evt_1")
	assert.False(t, seen)
}

func TestDeduper_Key(t *testing.T) {
	d := NewDeduper(nil, "webhook", 0)
	assert.Equal(t, "dedup:webhook:evt_1", d.key("evt_1"))
	assert.Equal(t, TTLDedup, d.ttl)
}

// Runs against a live server when REDIS_ADDR is set.
func TestDeduper_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := New(addr, os.Getenv("REDIS_PASSWORD"))
	defer rdb.Close()
	require.NoError(t, Ping(ctx, rdb))

	d := NewDeduper(rdb, "test", time.Minute)
	id := uuid.NewString()

	seen, err := d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, id))
	seen, err = d.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

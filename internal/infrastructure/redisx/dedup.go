package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers keys for a fixed TTL.
type Deduper struct {
	rdb   redis.Cmdable
	scope string
	ttl   time.Duration
}

func NewDeduper(rdb redis.Cmdable, scope string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Deduper{rdb: rdb, scope: scope, ttl: ttl}
}

func (d *Deduper) key(id string) string {
	return fmt.Sprintf(KeyDedup, d.scope, id)
}

func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

// Mark records id. Marking twice is not an error.
func (d *Deduper) Mark(ctx context.Context, id string) error {
	return d.rdb.SetNX(ctx, d.key(id), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}

// MemoryDeduper is the single-process stand-in used when Redis is not
// configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Seen(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.seen[id]
	if !ok {
		return false, nil
	}
	if d.now().After(exp) {
		delete(d.seen, id)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) Mark(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; !ok {
		d.seen[id] = d.now().Add(d.ttl)
	}
	return nil
}

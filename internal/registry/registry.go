// internal/registry/registry.go

// Package registry tracks which leads have already been handled. The dedup
// set is volatile by design (re-contact after a restart is wasteful, not
// harmful); the skip set is durable because permanently-unusable leads must
// never be retried.
package registry

import (
	"context"
	"sync"

	"leadpilot/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

const skipSetKey = "leadpilot:skip"

// Dedup is the in-process set of lead ids contacted this session.
type Dedup struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{ids: make(map[string]struct{})}
}

func (d *Dedup) Has(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[id]
	return ok
}

// MarkProcessed is idempotent; marking twice changes nothing.
func (d *Dedup) MarkProcessed(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

func (d *Dedup) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Skip is the durable set of permanently-unusable lead ids, backed by a
// redis set so it survives restarts.
type Skip struct {
	client *redis.Client
}

func NewSkip(client *redis.Client) *Skip {
	return &Skip{client: client}
}

func (s *Skip) Has(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, skipSetKey, id).Result()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreReadFailed, "skip registry lookup failed", err)
	}
	return ok, nil
}

func (s *Skip) MarkSkipped(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, skipSetKey, id).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "skip registry write failed", err)
	}
	return nil
}

func (s *Skip) Size(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, skipSetKey).Result()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreReadFailed, "skip registry size failed", err)
	}
	return n, nil
}

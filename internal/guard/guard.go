// Package guard prevents re-entrant runs of the recurrence and migration passes.
//
// A pass acquires a per-user key before reading its inputs and releases it after the
// batch is committed, so a second trigger cannot submit a batch derived from a
// watermark the first one has not yet written.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned by Do when another holder owns the key.
var ErrBusy = errors.New("operation already in progress")

type Guard interface {
	// Acquire tries to take key for at most ttl. ok is false when someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Do runs fn while holding key, or returns ErrBusy.
func Do(ctx context.Context, g Guard, key string, ttl time.Duration, fn func(context.Context) error) error {
	release, ok, err := g.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	defer release()
	return fn(ctx)
}

// Key builds a guard key for a pass over one user's data.
func Key(pass, userID string) string {
	return "conti:guard:" + pass + ":" + userID
}

// MemoryGuard is an in-process Guard.
type MemoryGuard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	token uint64
	owner map[string]uint64
	now   func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		held:  map[string]time.Time{},
		owner: map[string]uint64{},
		now:   time.Now,
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	g.token++
	tok := g.token
	g.held[key] = now.Add(ttl)
	g.owner[key] = tok

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		// An expired lock may have been taken over; only the owner releases it.
		if g.owner[key] == tok {
			delete(g.held, key)
			delete(g.owner, key)
		}
	}, true, nil
}

// Package dedup drops re-delivered chat actions. Slack retries an
// interaction when it doesn't see a timely acknowledgement, and Socket Mode
// may deliver the same envelope twice across reconnects; handling such a
// click twice would post the next step twice.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/h1v3-io/talktome/internal/connector"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// Guard records delivery IDs that are being or have been handled.
type Guard interface {
	// Claim reports whether key was not seen before and is now taken.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so that a later delivery is handled again.
	Release(ctx context.Context, key string) error
}

// Wrap returns a handler that passes each delivery to next at most once.
// Actions without a delivery ID are always passed through. If the guard
// itself fails the action is handled anyway. A failed handler releases its
// claim so the retry can succeed.
func Wrap(g Guard, next connector.ActionHandler, logger *slog.Logger) connector.ActionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, a protocol.Action) error {
		key := a.DeliveryID
		if key == "" {
			return next(ctx, a)
		}

		ok, err := g.Claim(ctx, key)
		if err != nil {
			logger.Warn("dedup claim failed, handling anyway", "delivery", key, "error", err)
			return next(ctx, a)
		}
		if !ok {
			logger.Info("duplicate action ignored", "delivery", key, "workflow", a.Workflow, "action", a.ActionID)
			return nil
		}

		if err := next(ctx, a); err != nil {
			if rerr := g.Release(ctx, key); rerr != nil {
				logger.Warn("dedup release failed", "delivery", key, "error", rerr)
			}
			return err
		}
		return nil
	}
}

// Memory is an in-process Guard for single-instance deployments.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time // key → expiry
	now  func() time.Time
}

// NewMemory creates an in-process guard that remembers keys for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}

// Package rwlock implements the per-owner lock handle: it binds a store,
// a lock name, a unique owner id, and a retry policy, and drives the
// retry loop around the five atomic protocols in internal/protocol.
package rwlock

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikolasavic/rwlockd/internal/audit"
	"github.com/nikolasavic/rwlockd/internal/identity"
	"github.com/nikolasavic/rwlockd/internal/keyspace"
	"github.com/nikolasavic/rwlockd/internal/protocol"
	"github.com/nikolasavic/rwlockd/internal/store"
)

// Default retry policy: a moderate retry count with a small fixed delay.
const (
	DefaultRetryCount = 3
	DefaultRetryDelay = 200 * time.Millisecond
)

// Options configures a Handle's retry policy.
type Options struct {
	// RetryCount is the maximum number of BLOCKED replies tolerated
	// before raising CannotObtainLockError. 0 means fail immediately on
	// the first BLOCKED reply.
	RetryCount int
	// RetryDelay is the sleep between retries. Non-positive falls back
	// to DefaultRetryDelay.
	RetryDelay time.Duration
	// Auditor, if non-nil, receives an event for every attempt outcome.
	Auditor *audit.Writer
}

func (o Options) retryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return DefaultRetryDelay
}

// jitter returns delay scaled by a random factor in [0.85, 1.15], to
// desynchronize competing waiters retrying at the same fixed delay.
func jitter(delay time.Duration) time.Duration {
	factor := 0.85 + rand.Float64()*0.30 //nolint:gosec // timing jitter, not security
	return time.Duration(float64(delay) * factor)
}

// Handle is bound to one store, one lock name, and one owner id for its
// entire lifetime. It carries no cached lock-mode state — all
// authoritative state lives in the store.
type Handle struct {
	store     *store.Store
	namespace string
	name      string
	owner     identity.Identity
	keys      keyspace.Keys
	opts      Options
}

// New creates a Handle for name against st, minting a fresh owner id.
func New(st *store.Store, namespace, name string, opts Options) (*Handle, error) {
	if err := keyspace.ValidateName(name); err != nil {
		return nil, err
	}
	return &Handle{
		store:     st,
		namespace: namespace,
		name:      name,
		owner:     identity.New(),
		keys:      keyspace.Layout(namespace, name),
		opts:      opts,
	}, nil
}

// OwnerID returns the handle's stable owner id.
func (h *Handle) OwnerID() string { return h.owner.Owner }

// Name returns the lock name this handle was constructed for.
func (h *Handle) Name() string { return h.name }

// AcquireExclusive attempts to obtain the exclusive (writer) grant,
// retrying on BLOCKED replies per the handle's retry policy.
func (h *Handle) AcquireExclusive(ctx context.Context, ttl time.Duration) error {
	return h.acquire(ctx, ttl, h.store.Scripts().AcquireExclusive, audit.EventAcquireExclusive)
}

// AcquireShared attempts to obtain a shared (reader) grant, retrying on
// BLOCKED replies per the handle's retry policy.
func (h *Handle) AcquireShared(ctx context.Context, ttl time.Duration) error {
	return h.acquire(ctx, ttl, h.store.Scripts().AcquireShared, audit.EventAcquireShared)
}

func (h *Handle) acquire(ctx context.Context, ttl time.Duration, script *redis.Script, event string) error {
	ttlSeconds := ttl.Seconds()

	attempts := 0
	for {
		reply, err := h.store.RunScript(ctx, script, h.keys.Names(), h.owner.Owner, ttlSeconds)
		if err != nil {
			return err
		}
		attempts++

		switch reply {
		case protocol.ReplyOK:
			h.emit(event, ttl, nil)
			return nil
		case protocol.ReplyBlocked:
			h.emit(audit.EventBlocked, ttl, nil)
			if attempts > h.opts.RetryCount {
				// Best-effort release: remove this owner from whichever
				// waiting set the BLOCKED reply enqueued it into.
				_ = h.Release(ctx)
				return &CannotObtainLockError{Name: h.name, Owner: h.owner.Owner, Attempts: attempts}
			}
		default:
			return &CannotObtainLockError{Name: h.name, Owner: h.owner.Owner, Attempts: attempts}
		}

		select {
		case <-ctx.Done():
			_ = h.Release(ctx)
			return ctx.Err()
		case <-time.After(jitter(h.opts.retryDelay())):
		}
	}
}

// Refresh extends the TTL of the handle's current grant (exclusive or
// shared). It never re-acquires a lost grant: if the grant has expired,
// it returns LockExpiredError.
func (h *Handle) Refresh(ctx context.Context, ttl time.Duration) error {
	reply, err := h.store.RunScript(ctx, h.store.Scripts().Refresh, h.keys.Names(), h.owner.Owner, ttl.Seconds())
	if err != nil {
		return err
	}
	switch reply {
	case protocol.ReplyOK:
		h.emit(audit.EventRefresh, ttl, nil)
		return nil
	case protocol.ReplyExpired:
		h.emit(audit.EventExpired, ttl, nil)
		return &LockExpiredError{Name: h.name, Owner: h.owner.Owner}
	default:
		return &LockExpiredError{Name: h.name, Owner: h.owner.Owner}
	}
}

// Release removes the handle's owner id from whichever of the four keys
// contains it. It is unconditionally safe: releasing a lock the handle
// does not hold is a no-op, never a domain error.
func (h *Handle) Release(ctx context.Context) error {
	_, err := h.store.RunScript(ctx, h.store.Scripts().Release, h.keys.Names(), h.owner.Owner)
	if err != nil {
		return err
	}
	h.emit(audit.EventRelease, 0, nil)
	return nil
}

// Flush administratively deletes all four keys for this handle's lock
// name, regardless of current holders or waiters.
func (h *Handle) Flush(ctx context.Context) error {
	_, err := h.store.RunScript(ctx, h.store.Scripts().Flush, h.keys.Names())
	if err != nil {
		return err
	}
	h.emit(audit.EventFlush, 0, nil)
	return nil
}

func (h *Handle) emit(event string, ttl time.Duration, extra map[string]any) {
	if h.opts.Auditor == nil {
		return
	}
	h.opts.Auditor.Emit(&audit.Event{
		Event:   event,
		Name:    h.name,
		Owner:   h.owner.Owner,
		Host:    h.owner.Host,
		PID:     h.owner.PID,
		AgentID: h.owner.AgentID,
		TTLSec:  ttl.Seconds(),
		Extra:   extra,
	})
}

package rwlock

import (
	"context"
	"time"

	"github.com/nikolasavic/rwlockd/internal/store"
)

// Waiter describes one member of a waiting or holding sorted set.
type Waiter struct {
	Owner    string
	Deadline time.Time
}

// Info is a read-only snapshot of a lock's state, for the `info` CLI
// command. It does not compact ghosts: entries whose deadline has passed
// stay in the lists until the next write-path script on the name removes
// them. ExclusiveWaitingLive filters them by the local clock.
type Info struct {
	Name             string
	ExclusiveHolder  string // empty if no exclusive holder
	ExclusiveWaiting []Waiter
	Shared           []Waiter
	SharedWaiting    []Waiter
}

// Info reads the current state of the handle's lock name without
// mutating it.
func (h *Handle) Info(ctx context.Context) (Info, error) {
	info := Info{Name: h.name}

	holder, present, err := h.store.GetString(ctx, h.keys.Exclusive)
	if err != nil {
		return Info{}, err
	}
	if present {
		info.ExclusiveHolder = holder
	}

	ew, err := waiters(ctx, h.store, h.keys.ExclusiveWaiting)
	if err != nil {
		return Info{}, err
	}
	info.ExclusiveWaiting = ew

	sh, err := waiters(ctx, h.store, h.keys.Shared)
	if err != nil {
		return Info{}, err
	}
	info.Shared = sh

	sw, err := waiters(ctx, h.store, h.keys.SharedWaiting)
	if err != nil {
		return Info{}, err
	}
	info.SharedWaiting = sw

	return info, nil
}

func waiters(ctx context.Context, st *store.Store, key string) ([]Waiter, error) {
	zs, err := st.ZRangeWithScores(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]Waiter, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Waiter{
			Owner:    member,
			Deadline: time.Unix(0, int64(z.Score*float64(time.Second))),
		})
	}
	return out, nil
}

// State is a lock's derived high-level state.
type State string

const (
	StateFree             State = "FREE"
	StateHeldExclusive    State = "HELD_EXCLUSIVE"
	StateHeldShared       State = "HELD_SHARED"
	StatePendingExclusive State = "PENDING_EXCLUSIVE"
)

// State derives the lock's coarse-grained state from an Info snapshot.
func (info Info) State() State {
	switch {
	case info.ExclusiveHolder != "":
		return StateHeldExclusive
	case len(info.ExclusiveWaitingLive()) > 0:
		return StatePendingExclusive
	case len(info.Shared) > 0:
		return StateHeldShared
	default:
		return StateFree
	}
}

// ExclusiveWaitingLive returns the exclusive-waiting entries whose
// deadline has not yet passed, relative to the local clock. This is a
// diagnostic convenience only — admission decisions never use the local
// clock, only the store's.
func (info Info) ExclusiveWaitingLive() []Waiter {
	now := time.Now()
	live := make([]Waiter, 0, len(info.ExclusiveWaiting))
	for _, w := range info.ExclusiveWaiting {
		if w.Deadline.After(now) {
			live = append(live, w)
		}
	}
	return live
}

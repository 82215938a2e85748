// Package demo renders live reader/writer contention for one lock name as
// a colorized terminal grid, one cell per worker.
package demo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/nikolasavic/rwlockd/internal/audit"
	"github.com/nikolasavic/rwlockd/internal/store"
	"github.com/nikolasavic/rwlockd/rwlock"
)

// WorkerState is the state a demo worker's cell renders as.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateWaitingExclusive
	StateWaitingShared
	StateHeldExclusive
	StateHeldShared
)

// Role is a demo worker's fixed contention role: a reader always
// requests the shared grant, a writer always requests the exclusive
// one.
type Role int

const (
	RoleReader Role = iota
	RoleWriter
)

// Config holds the configuration for a contention demo run.
type Config struct {
	Name      string
	Namespace string
	Readers   int
	Writers   int
	TTL       time.Duration
	HoldMin   time.Duration
	HoldMax   time.Duration
	IdleMin   time.Duration
	IdleMax   time.Duration
	Seed      uint64
}

// Workers returns the total worker (cell) count.
func (c *Config) Workers() int { return c.Readers + c.Writers }

// Stats is the live, concurrently-updated view the renderer reads from.
// One cell per worker, plus running counters for the sidebar.
type Stats struct {
	mu sync.Mutex

	cells []WorkerState

	acquiredExclusive int64
	acquiredShared    int64
	blocked           int64
	events            []string
}

func newStats(workers int) *Stats {
	return &Stats{cells: make([]WorkerState, workers)}
}

func (s *Stats) setCell(i int, state WorkerState) {
	s.mu.Lock()
	s.cells[i] = state
	s.mu.Unlock()
}

func (s *Stats) addEvent(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg)
	if len(s.events) > 8 {
		s.events = s.events[len(s.events)-8:]
	}
}

// Snapshot is a point-in-time copy safe to read without the Stats mutex.
type Snapshot struct {
	Cells             []WorkerState
	AcquiredExclusive int64
	AcquiredShared    int64
	Blocked           int64
	Events            []string
}

func (s *Stats) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cells := make([]WorkerState, len(s.cells))
	copy(cells, s.cells)
	events := make([]string, len(s.events))
	copy(events, s.events)
	return Snapshot{
		Cells:             cells,
		AcquiredExclusive: s.acquiredExclusive,
		AcquiredShared:    s.acquiredShared,
		Blocked:           s.blocked,
		Events:            events,
	}
}

// Worker repeatedly contends for one lock name in its fixed Role,
// holding the grant for a random interval and then idling before the
// next attempt.
type Worker struct {
	ID      int
	Role    Role
	Config  *Config
	Store   *store.Store
	Auditor *audit.Writer
	Stats   *Stats
	Rng     *rand.Rand
}

// Run drives the worker loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	handle, err := rwlock.New(w.Store, w.Config.Namespace, w.Config.Name, rwlock.Options{
		Auditor: w.Auditor,
	})
	if err != nil {
		w.Stats.addEvent(err.Error())
		return
	}

	exclusive := w.Role == RoleWriter
	waitState, heldState := StateWaitingShared, StateHeldShared
	if exclusive {
		waitState, heldState = StateWaitingExclusive, StateHeldExclusive
	}

	for ctx.Err() == nil {
		w.Stats.setCell(w.ID, waitState)

		var acqErr error
		if exclusive {
			acqErr = handle.AcquireExclusive(ctx, w.Config.TTL)
		} else {
			acqErr = handle.AcquireShared(ctx, w.Config.TTL)
		}
		if acqErr != nil {
			w.Stats.mu.Lock()
			w.Stats.blocked++
			w.Stats.mu.Unlock()
			w.Stats.setCell(w.ID, StateIdle)
			w.sleep(ctx, w.idleDelay())
			continue
		}

		w.Stats.mu.Lock()
		if exclusive {
			w.Stats.acquiredExclusive++
		} else {
			w.Stats.acquiredShared++
		}
		w.Stats.mu.Unlock()
		w.Stats.setCell(w.ID, heldState)

		w.sleep(ctx, w.holdDuration())

		if err := handle.Release(ctx); err != nil {
			w.Stats.addEvent(err.Error())
		}
		w.Stats.setCell(w.ID, StateIdle)

		w.sleep(ctx, w.idleDelay())
	}
}

func (w *Worker) holdDuration() time.Duration {
	lo, hi := w.Config.HoldMin, w.Config.HoldMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.Rng.Int63n(int64(hi-lo)))
}

func (w *Worker) idleDelay() time.Duration {
	lo, hi := w.Config.IdleMin, w.Config.IdleMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.Rng.Int63n(int64(hi-lo)))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Coordinator manages the worker pool for a contention demo run.
type Coordinator struct {
	Config  *Config
	Store   *store.Store
	Auditor *audit.Writer
	Stats   *Stats
}

// NewCoordinator wires a Coordinator and its Stats for the configured
// reader/writer cell count.
func NewCoordinator(cfg *Config, st *store.Store, auditor *audit.Writer) *Coordinator {
	return &Coordinator{
		Config:  cfg,
		Store:   st,
		Auditor: auditor,
		Stats:   newStats(cfg.Workers()),
	}
}

// Start spawns Config.Readers + Config.Writers workers and blocks until
// ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	total := c.Config.Workers()
	done := make(chan struct{}, total)

	spawn := func(id int, role Role) {
		go func() {
			w := &Worker{
				ID:      id,
				Role:    role,
				Config:  c.Config,
				Store:   c.Store,
				Auditor: c.Auditor,
				Stats:   c.Stats,
				Rng:     rand.New(rand.NewSource(int64(c.Config.Seed) + int64(id))), //nolint:gosec // demo seeding
			}
			w.Run(ctx)
			done <- struct{}{}
		}()
	}

	id := 0
	for i := 0; i < c.Config.Readers; i++ {
		spawn(id, RoleReader)
		id++
	}
	for i := 0; i < c.Config.Writers; i++ {
		spawn(id, RoleWriter)
		id++
	}

	for i := 0; i < total; i++ {
		<-done
	}
}

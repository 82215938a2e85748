package demo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nikolasavic/rwlockd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client)
}

func TestCoordinator_RunsWorkersToCompletion(t *testing.T) {
	st := newTestStore(t)

	cfg := &Config{
		Name:      "contended",
		Namespace: "rwlockdemo",
		Readers:   2,
		Writers:   2,
		TTL:       time.Second,
		HoldMin:   time.Millisecond,
		HoldMax:   3 * time.Millisecond,
		IdleMin:   time.Millisecond,
		IdleMax:   2 * time.Millisecond,
		Seed:      7,
	}

	coord := NewCoordinator(cfg, st, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	coord.Start(ctx)

	snap := coord.Stats.snapshot()
	if snap.AcquiredExclusive+snap.AcquiredShared == 0 {
		t.Error("expected at least one successful acquisition across all workers")
	}
	for _, c := range snap.Cells {
		if c != StateIdle {
			t.Errorf("expected all cells idle after ctx cancellation, got %v", c)
		}
	}
}

func TestStats_SnapshotIsIndependentCopy(t *testing.T) {
	s := newStats(2)
	s.setCell(0, StateHeldExclusive)
	snap := s.snapshot()

	s.setCell(0, StateIdle)
	if snap.Cells[0] != StateHeldExclusive {
		t.Error("snapshot should not reflect mutations made after it was taken")
	}
}

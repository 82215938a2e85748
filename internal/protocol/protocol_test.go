package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testKeys() []string {
	return []string{
		"ns:{n}:exclusive",
		"ns:{n}:exclusive_waiting",
		"ns:{n}:shared",
		"ns:{n}:shared_waiting",
	}
}

func TestLoad(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.AcquireExclusive == nil || s.AcquireShared == nil || s.Refresh == nil || s.Release == nil || s.Flush == nil {
		t.Error("Load() returned a Scripts with a nil field")
	}
}

func TestMustLoad(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustLoad() panicked: %v", r)
		}
	}()
	if MustLoad() == nil {
		t.Error("MustLoad() returned nil")
	}
}

func TestAcquireExclusive_FreeLockSucceeds(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 10.0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != ReplyOK {
		t.Errorf("reply = %v, want %v", reply, ReplyOK)
	}

	val, err := client.Get(ctx, keys[0]).Result()
	if err != nil || val != "owner-a" {
		t.Errorf("exclusive key = %q, %v, want %q, nil", val, err, "owner-a")
	}
}

func TestAcquireExclusive_BlockedByExistingHolder(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 10.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-b", 10.0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != ReplyBlocked {
		t.Errorf("reply = %v, want %v", reply, ReplyBlocked)
	}

	rank, err := client.ZRank(ctx, keys[1], "owner-b").Result()
	if err != nil || rank != 0 {
		t.Errorf("owner-b should be enqueued in exclusive_waiting, rank=%v err=%v", rank, err)
	}
}

func TestAcquireExclusive_BlockedBySharedHolders(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireShared, keys, "reader-1", 10.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "writer-1", 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyBlocked {
		t.Errorf("reply = %v, want %v", reply, ReplyBlocked)
	}
}

func TestAcquireExclusive_SameOwnerAtFrontOfWaitingWins(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireShared, keys, "reader-1", 10.0); err != nil {
		t.Fatal(err)
	}
	// First call enqueues writer-1 as sole waiter.
	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "writer-1", 10.0); err != nil {
		t.Fatal(err)
	}
	if err := client.ZRem(ctx, keys[2], "reader-1").Err(); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "writer-1", 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("sole front-of-queue waiter retry reply = %v, want %v", reply, ReplyOK)
	}
}

func TestAcquireShared_ConcurrentReadersAllSucceed(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	for _, owner := range []string{"reader-1", "reader-2", "reader-3"} {
		reply, err := Run(ctx, client, s.AcquireShared, keys, owner, 10.0)
		if err != nil {
			t.Fatal(err)
		}
		if reply != ReplyOK {
			t.Errorf("reader %s reply = %v, want %v", owner, reply, ReplyOK)
		}
	}

	count, err := client.ZCard(ctx, keys[2]).Result()
	if err != nil || count != 3 {
		t.Errorf("shared set count = %d, %v, want 3", count, err)
	}
}

func TestAcquireShared_BlockedByWaitingWriter(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireShared, keys, "reader-1", 10.0); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "writer-1", 10.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireShared, keys, "reader-2", 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyBlocked {
		t.Errorf("reply = %v, want %v (writer-preference should block new readers)", reply, ReplyBlocked)
	}
}

func TestRefresh_ExtendsExclusiveHolderTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 1.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.Refresh, keys, "owner-a", 60.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("reply = %v, want %v", reply, ReplyOK)
	}

	ttl := mr.TTL(keys[0])
	if ttl < 50*time.Second {
		t.Errorf("ttl after refresh = %v, want >= 50s", ttl)
	}
}

func TestRefresh_SharedHolderExtendsScore(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireShared, keys, "reader-1", 1.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.Refresh, keys, "reader-1", 60.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("reply = %v, want %v", reply, ReplyOK)
	}

	score, err := client.ZScore(ctx, keys[2], "reader-1").Result()
	if err != nil {
		t.Fatal(err)
	}
	if score < float64(time.Now().Unix()+50) {
		t.Errorf("shared score after refresh = %v, want a far-future deadline", score)
	}
}

func TestRefresh_NonHolderReturnsExpired(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	reply, err := Run(ctx, client, s.Refresh, keys, "ghost", 60.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyExpired {
		t.Errorf("reply = %v, want %v", reply, ReplyExpired)
	}
}

func TestRelease_ExclusiveHolderClearsKey(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 10.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.Release, keys, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("reply = %v, want %v", reply, ReplyOK)
	}

	exists, err := client.Exists(ctx, keys[0]).Result()
	if err != nil || exists != 0 {
		t.Errorf("exclusive key should be gone after release, exists=%d err=%v", exists, err)
	}
}

func TestRelease_IsIdempotentForNonHolder(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	reply, err := Run(ctx, client, s.Release, keys, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("releasing a lock never held should still reply %v, got %v", ReplyOK, reply)
	}
}

func TestRelease_UnblocksWaitingWriter(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 10.0); err != nil {
		t.Fatal(err)
	}
	if reply, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-b", 10.0); err != nil || reply != ReplyBlocked {
		t.Fatalf("expected owner-b to be blocked, got %v, %v", reply, err)
	}

	if _, err := Run(ctx, client, s.Release, keys, "owner-a"); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-b", 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("owner-b retry after release = %v, want %v", reply, ReplyOK)
	}
}

func TestFlush_DeletesAllFourKeys(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 10.0); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(ctx, client, s.AcquireShared, keys, "reader-1", 10.0); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.Flush, keys)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("reply = %v, want %v", reply, ReplyOK)
	}

	for _, k := range keys {
		exists, err := client.Exists(ctx, k).Result()
		if err != nil || exists != 0 {
			t.Errorf("key %q should not exist after flush, exists=%d err=%v", k, exists, err)
		}
	}
}

func TestRun_UnknownReplyTagIsAnError(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	bogus := redis.NewScript("return {'WAT'}")

	if _, err := Run(ctx, client, bogus, nil); err == nil {
		t.Error("expected an error for an unrecognized reply tag")
	}
}

func TestAcquireExclusive_CompactsExpiredWaitingWriter(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	s := MustLoad()
	keys := testKeys()

	if _, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-a", 1.0); err != nil {
		t.Fatal(err)
	}
	if reply, err := Run(ctx, client, s.AcquireExclusive, keys, "ghost-waiter", 1.0); err != nil || reply != ReplyBlocked {
		t.Fatalf("expected ghost-waiter to enqueue, got %v, %v", reply, err)
	}

	mr.FastForward(2 * time.Second)
	// FastForward only ages key TTLs; the scripts read TIME, so move the
	// store clock past the waiter's deadline too.
	mr.SetTime(time.Now().Add(2 * time.Second))
	if err := client.Del(ctx, keys[0]).Err(); err != nil {
		t.Fatal(err)
	}

	reply, err := Run(ctx, client, s.AcquireExclusive, keys, "owner-c", 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != ReplyOK {
		t.Errorf("expected the expired waiter's entry to be compacted away, got %v", reply)
	}
}

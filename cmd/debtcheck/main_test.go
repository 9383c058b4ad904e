package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/svplaksin/fssp-api/internal/export"
	"github.com/svplaksin/fssp-api/pkg/cache"
	"github.com/svplaksin/fssp-api/pkg/fssp"
)

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewStore(client, time.Hour)
}

func TestFilterPending_SkipsRestored(t *testing.T) {
	results := fssp.NewResultSet()
	_ = results.Record(fssp.Outcome{Number: "A", Status: fssp.StatusNoDebt, Attempts: 1})

	pending := filterPending(context.Background(), []string{"A", "B"}, results, nil, false, zerolog.Nop())

	if len(pending) != 1 || pending[0] != "B" {
		t.Errorf("pending = %v, want [B]", pending)
	}
}

func TestFilterPending_SkipsCached(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)

	cached := fssp.Outcome{Number: "A", Status: fssp.StatusFound, Amount: 250, Attempts: 1}
	if err := store.Put(ctx, cached); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	results := fssp.NewResultSet()
	pending := filterPending(ctx, []string{"A", "B"}, results, store, true, zerolog.Nop())

	if len(pending) != 1 || pending[0] != "B" {
		t.Errorf("pending = %v, want [B]", pending)
	}

	// The cached outcome must land in the result set so it reaches the output.
	got, ok := results.Get("A")
	if !ok || got != cached {
		t.Errorf("results[A] = %+v, want %+v", got, cached)
	}
}

func TestFilterPending_SkipKnownDisabled(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)

	_ = store.Put(ctx, fssp.Outcome{Number: "A", Status: fssp.StatusNoDebt, Attempts: 1})

	pending := filterPending(ctx, []string{"A", "B"}, fssp.NewResultSet(), store, false, zerolog.Nop())

	if len(pending) != 2 {
		t.Errorf("pending = %v, want both numbers", pending)
	}
}

func TestSeedKnownAmounts(t *testing.T) {
	amount := 750.0
	rows := []export.Row{
		{Number: "A", Index: 2, KnownAmount: &amount},
		{Number: "B", Index: 3},
	}

	results := fssp.NewResultSet()
	seedKnownAmounts(rows, results)

	got, ok := results.Get("A")
	if !ok || got.Status != fssp.StatusFound || got.Amount != 750 {
		t.Errorf("results[A] = %+v, want Found(750)", got)
	}
	if _, ok := results.Get("B"); ok {
		t.Error("B has no known amount and must stay pending")
	}
}

func TestStoreOutcomes(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)

	results := fssp.NewResultSet()
	_ = results.Record(fssp.Outcome{Number: "A", Status: fssp.StatusFound, Amount: 10, Attempts: 1})
	_ = results.Record(fssp.Outcome{Number: "B", Status: fssp.StatusFailed, Reason: fssp.ReasonExhausted, Attempts: 3})

	storeOutcomes(ctx, store, results, zerolog.Nop())

	if _, err := store.Get(ctx, "A"); err != nil {
		t.Errorf("Get(A) error = %v, resolved outcome should be cached", err)
	}
	if _, err := store.Get(ctx, "B"); err == nil {
		t.Error("Get(B) = nil error, failed outcome must not be cached")
	}
}

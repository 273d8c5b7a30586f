package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateProductDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.GetOrCreateProduct(ctx, "https://example/item1", "item1", 500)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	id2, err := s.GetOrCreateProduct(ctx, "https://example/item1", "item1", 300)
	if err != nil {
		t.Fatalf("recreate product: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same product id for same URL, got %d and %d", id1, id2)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 1 {
		t.Errorf("expected 1 product row, got %d", len(products))
	}
}

func TestRecordPriceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateProduct(ctx, "https://example/item1", "item1", 500)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	before := time.Now().UTC().Truncate(time.Second)
	if err := s.RecordPrice(ctx, id, 449.99, time.Now().UTC()); err != nil {
		t.Fatalf("record price: %v", err)
	}

	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].Price != 449.99 {
		t.Errorf("price = %v, want 449.99", history[0].Price)
	}
	if history[0].Timestamp.Before(before) {
		t.Errorf("timestamp %v earlier than write call %v", history[0].Timestamp, before)
	}

	obs, err := s.Observations(ctx, id)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(obs) != 1 || obs[0].Price != 449.99 {
		t.Errorf("ledger = %+v, want one row at 449.99", obs)
	}

	p, err := s.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.CurrentPrice == nil || *p.CurrentPrice != 449.99 {
		t.Errorf("current_price = %v, want 449.99", p.CurrentPrice)
	}
	if p.LastChecked == nil {
		t.Error("last_checked not set after record")
	}
}

func TestHistoryWindowCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateProduct(ctx, "https://example/item1", "item1", 500)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	base := time.Now().UTC().Add(-40 * time.Minute)
	const n = 35
	for i := 0; i < n; i++ {
		if err := s.RecordPrice(ctx, id, 100+float64(i), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != MaxHistory {
		t.Fatalf("history length = %d, want %d", len(history), MaxHistory)
	}
	// Oldest evicted first: window starts at observation n-MaxHistory.
	if history[0].Price != 100+float64(n-MaxHistory) {
		t.Errorf("oldest kept price = %v, want %v", history[0].Price, 100+float64(n-MaxHistory))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}

	// The durable ledger keeps everything.
	obs, err := s.Observations(ctx, id)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(obs) != n {
		t.Errorf("ledger rows = %d, want %d", len(obs), n)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, "a@x.com", "", "sms"); err == nil {
		t.Error("expected error for duplicate email")
	}

	u, err := s.GetUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.AlertPreference != "email" {
		t.Errorf("alert_preference = %q, want default email", u.AlertPreference)
	}
}

func TestListTrackedJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1, err := s.CreateUser(ctx, "a@x.com", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	u2, err := s.CreateUser(ctx, "b@x.com", "", "sms")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	pid, err := s.GetOrCreateProduct(ctx, "https://example/item1", "item1", 500)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if err := s.CreateTracking(ctx, u1, pid, 500); err != nil {
		t.Fatalf("track u1: %v", err)
	}
	if err := s.CreateTracking(ctx, u2, pid, 400); err != nil {
		t.Fatalf("track u2: %v", err)
	}
	// Duplicate subscriptions are allowed: same user, same product,
	// different target.
	if err := s.CreateTracking(ctx, u1, pid, 350); err != nil {
		t.Fatalf("duplicate track u1: %v", err)
	}

	items, err := s.ListTracked(ctx)
	if err != nil {
		t.Fatalf("list tracked: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("tuples = %d, want 3", len(items))
	}

	targets := map[float64]string{}
	for _, it := range items {
		if it.ProductID != pid || it.URL != "https://example/item1" {
			t.Errorf("unexpected tuple %+v", it)
		}
		targets[it.TargetPrice] = it.Email
	}
	if targets[400] != "b@x.com" || targets[500] != "a@x.com" || targets[350] != "a@x.com" {
		t.Errorf("join targets wrong: %v", targets)
	}
}

func TestHistoryUnknownProduct(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.History(context.Background(), 999); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.RecordPrice(context.Background(), 999, 10, time.Now()); err != ErrNotFound {
		t.Errorf("record err = %v, want ErrNotFound", err)
	}
}

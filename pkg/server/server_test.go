package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/elonfeng/pricewatch/internal/scheduler"
	"github.com/elonfeng/pricewatch/internal/store"
	"go.uber.org/zap"
)

type stubTrigger struct {
	err   error
	calls int
}

func (s *stubTrigger) TryRunCycle(ctx context.Context) error {
	s.calls++
	return s.err
}

func newTestServer(t *testing.T, trigger Trigger) (*Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, trigger, zap.NewNop(), 0), db
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHomeAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec, _ := doJSON(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET / = %d, want 200", rec.Code)
	}

	rec, resp := doJSON(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || resp["status"] != "ok" {
		t.Errorf("GET /health = %d %v", rec.Code, resp)
	}
}

func TestCreateUser(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/api/users", `{"email":"a@x.com"}`)
	if rec.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("create user = %d %v", rec.Code, resp)
	}
	if resp["user_id"] == nil {
		t.Error("missing user_id in response")
	}

	rec, resp = doJSON(t, h, http.MethodPost, "/api/users", `{"email":"a@x.com"}`)
	if rec.Code != http.StatusBadRequest || resp["error"] == nil {
		t.Errorf("duplicate email = %d %v, want 400 with error", rec.Code, resp)
	}

	rec, resp = doJSON(t, h, http.MethodPost, "/api/users", `{"alert_preference":"sms"}`)
	if rec.Code != http.StatusBadRequest || resp["error"] == nil {
		t.Errorf("missing email = %d %v, want 400 with error", rec.Code, resp)
	}
}

func TestAddProduct(t *testing.T) {
	srv, db := newTestServer(t, nil)
	h := srv.Handler()

	u1, err := db.CreateUser(context.Background(), "a@x.com", "", "")
	if err != nil {
		t.Fatal(err)
	}
	u2, err := db.CreateUser(context.Background(), "b@x.com", "", "")
	if err != nil {
		t.Fatal(err)
	}

	rec, resp := doJSON(t, h, http.MethodPost, "/api/products",
		`{"url":"https://example/item1","target_price":500,"user_id":`+itoa(u1)+`}`)
	if rec.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("add product = %d %v", rec.Code, resp)
	}
	first := resp["product_id"]

	// Same URL from another subscriber reuses the product row.
	rec, resp = doJSON(t, h, http.MethodPost, "/api/products",
		`{"url":"https://example/item1","target_price":400,"user_id":`+itoa(u2)+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-add product = %d %v", rec.Code, resp)
	}
	if resp["product_id"] != first {
		t.Errorf("product_id = %v, want %v (URL dedup)", resp["product_id"], first)
	}

	products, err := db.ListProducts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Errorf("product rows = %d, want 1", len(products))
	}
	if products[0].Name != "item1" {
		t.Errorf("derived name = %q, want item1", products[0].Name)
	}

	items, err := db.ListTracked(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("trackings = %d, want 2", len(items))
	}

	rec, resp = doJSON(t, h, http.MethodPost, "/api/products", `{"url":"https://example/item2"}`)
	if rec.Code != http.StatusBadRequest || resp["error"] == nil {
		t.Errorf("missing params = %d %v, want 400 with error", rec.Code, resp)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, db := newTestServer(t, nil)
	h := srv.Handler()
	ctx := context.Background()

	pid, err := db.GetOrCreateProduct(ctx, "https://example/item1", "item1", 500)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.RecordPrice(ctx, pid, 450, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	rec, resp := doJSON(t, h, http.MethodGet, "/api/products/"+itoa(pid)+"/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d %v", rec.Code, resp)
	}
	if resp["count"] != 1.0 {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/products/999/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown product = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/products/abc/history", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rec.Code)
	}
}

func TestTrackEndpoint(t *testing.T) {
	trigger := &stubTrigger{}
	srv, _ := newTestServer(t, trigger)
	h := srv.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/api/track", "")
	if rec.Code != http.StatusOK || resp["status"] != "completed" {
		t.Errorf("track = %d %v", rec.Code, resp)
	}
	if trigger.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", trigger.calls)
	}

	trigger.err = scheduler.ErrCycleRunning
	rec, _ = doJSON(t, h, http.MethodPost, "/api/track", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("busy track = %d, want 409", rec.Code)
	}
}

func TestTrackWithoutScheduler(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/track", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("track without scheduler = %d, want 503", rec.Code)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

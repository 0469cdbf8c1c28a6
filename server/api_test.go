package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/testutil"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newTestServer(t *testing.T, ml *testutil.MockLedger, opts Options) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, Dependencies{Ledger: ml, DB: fakePinger{}}, opts)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestMeterEndpoint(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Seed("alice", 3)
	h := newTestServer(t, ml, Options{})

	rr := get(t, h, "/api/meter")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
	body := decode[[]map[string]int64](t, rr)
	if len(body) != 1 || body[0]["meter"] != 3 {
		t.Errorf("unexpected body %v", body)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected correlation id header")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Seed("alice", 2)
	ml.Seed("bob", 1)
	h := newTestServer(t, ml, Options{})

	all := decode[[]map[string]string](t, get(t, h, "/api/history"))
	if len(all) != 3 || all[0]["username"] != "alice" || all[2]["username"] != "bob" {
		t.Errorf("unexpected history %v", all)
	}
	if all[0]["date"] != "2025-03-01T12:00:00Z" {
		t.Errorf("date %q", all[0]["date"])
	}

	bob := decode[[]map[string]string](t, get(t, h, "/api/history?username=bob"))
	if len(bob) != 1 || bob[0]["username"] != "bob" {
		t.Errorf("unexpected speaker history %v", bob)
	}

	none := get(t, h, "/api/history?username=nobody")
	if body := none.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Seed("alice", 3)
	ml.Seed("bob", 1)
	ml.Seed("carol", 2)
	h := newTestServer(t, ml, Options{MaxLeaderboard: 2})

	board := decode[[]ledger.LeaderboardEntry](t, get(t, h, "/api/leaderboard"))
	if len(board) != 2 || board[0].Username != "alice" || board[1].Username != "carol" {
		t.Errorf("unexpected board %v", board)
	}

	one := decode[[]ledger.LeaderboardEntry](t, get(t, h, "/api/leaderboard?limit=1"))
	if len(one) != 1 || one[0] != (ledger.LeaderboardEntry{Username: "alice", Count: 3}) {
		t.Errorf("unexpected limited board %v", one)
	}

	capped := decode[[]ledger.LeaderboardEntry](t, get(t, h, "/api/leaderboard?limit=50"))
	if len(capped) != 2 {
		t.Errorf("limit should be capped at 2, got %d", len(capped))
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if rr := get(t, h, "/api/leaderboard?limit="+bad); rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", bad, rr.Code)
		}
	}
}

func TestAchievementsEndpoint(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Awards = ledger.Achievements{MasaMaster: "alice"}
	h := newTestServer(t, ml, Options{})

	list := decode[[]ledger.Achievement](t, get(t, h, "/api/achievements"))
	if len(list) != 5 {
		t.Fatalf("expected 5 achievements, got %d", len(list))
	}
	if list[0].Name != "Masa Master" || list[0].Username != "alice" {
		t.Errorf("unexpected first achievement %+v", list[0])
	}
	if list[1].Username != "" {
		t.Errorf("unclaimed achievement should have empty username, got %q", list[1].Username)
	}
}

func TestAPIRejectsNonGet(t *testing.T) {
	h := newTestServer(t, testutil.NewMockLedger(), Options{})
	for _, path := range []string{"/api/meter", "/api/history", "/api/leaderboard", "/api/achievements"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, rr.Code)
		}
	}
}

func TestAPILedgerFailure(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Err = errors.New("connection refused")
	h := newTestServer(t, ml, Options{})

	rr := get(t, h, "/api/meter")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := decode[map[string]string](t, rr)
	if body["error"] == "" {
		t.Errorf("expected error body, got %v", body)
	}
}

func TestAPIInvalidSpeaker(t *testing.T) {
	ml := testutil.NewMockLedger()
	ml.Err = ledger.ErrInvalidSpeaker
	h := newTestServer(t, ml, Options{})

	if rr := get(t, h, "/api/history?username=x"); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ml := testutil.NewMockLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewMux(ctx, Dependencies{Ledger: ml, DB: fakePinger{}}, Options{})
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rr.Code)
	}

	down := NewMux(ctx, Dependencies{Ledger: ml, DB: fakePinger{err: errors.New("down")}}, Options{})
	rr := get(t, down, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rr.Code)
	}
	if body := decode[map[string]string](t, rr); body["failed_check"] != "database" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testutil.NewMockLedger(), Options{})
	if rr := get(t, h, "/metrics"); rr.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rr.Code)
	}
}

func TestAdminStatusRequiresAuth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMux(ctx, Dependencies{
		Ledger: testutil.NewMockLedger(),
		DB:     fakePinger{},
		Status: func() map[string]any { return map[string]any{"chat_in_flight": 2} },
	}, Options{AdminToken: "s3cret"})

	if rr := get(t, h, "/admin/status"); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["chat_in_flight"] != float64(2) || body["time"] == nil {
		t.Errorf("unexpected status body %v", body)
	}
}

func TestAPIRateLimited(t *testing.T) {
	h := newTestServer(t, testutil.NewMockLedger(), Options{RateLimitEnabled: true, RequestsPerIP: 2})
	for i := 0; i < 2; i++ {
		if rr := get(t, h, "/api/meter"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	rr := get(t, h, "/api/meter")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK {
		t.Errorf("health checks must not be rate limited, got %d", rr.Code)
	}
}

func TestCorrelationIDPropagated(t *testing.T) {
	h := newTestServer(t, testutil.NewMockLedger(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/meter", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-42" {
		t.Errorf("expected corr-42, got %q", got)
	}
}

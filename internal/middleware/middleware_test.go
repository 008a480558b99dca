package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aditya/ridedispatch/internal/logging"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	p, ok := models.PrincipalFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(p)
}

func TestPrincipal(t *testing.T) {
	tests := []struct {
		name       string
		id, role   string
		wantStatus int
		wantID     string
	}{
		{"anonymous passes through", "", "", http.StatusNoContent, ""},
		{"rider", "r1", models.RoleRider, http.StatusOK, "r1"},
		{"driver", "d1", models.RoleDriver, http.StatusOK, "d1"},
		{"missing role", "d1", "", http.StatusBadRequest, ""},
		{"unknown role", "a1", "admin", http.StatusBadRequest, ""},
	}
	h := Principal(http.HandlerFunc(echoPrincipal))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != "" {
				req.Header.Set(UserIDHeader, tt.id)
			}
			if tt.role != "" {
				req.Header.Set(UserRoleHeader, tt.role)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantID == "" {
				return
			}
			var p models.Principal
			if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.ID != tt.wantID || p.Role != tt.role {
				t.Errorf("principal = %+v", p)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		as   *models.Principal
		want int
	}{
		{"anonymous", nil, http.StatusForbidden},
		{"wrong role", &models.Principal{ID: "r1", Role: models.RoleRider}, http.StatusForbidden},
		{"matching role", &models.Principal{ID: "d1", Role: models.RoleDriver}, http.StatusOK},
	}
	h := RequireRole(models.RoleDriver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.as != nil {
				req = req.WithContext(models.WithPrincipal(req.Context(), *tt.as))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "internal_error" {
		t.Errorf("body = %v", body)
	}
}

func TestRecoveryRepanicsOnAbort(t *testing.T) {
	h := Recovery(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/things/{id}", "418")
	before := testutil.ToFloat64(counter)
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/"+id, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("counter delta = %v, want 2", got)
	}
}

func TestCallerKey(t *testing.T) {
	tests := []struct {
		name      string
		principal *models.Principal
		forwarded string
		remote    string
		want      string
	}{
		{"principal wins", &models.Principal{ID: "d1", Role: models.RoleDriver}, "10.0.0.1", "192.0.2.1:1234", "driver:d1"},
		{"forwarded header", nil, "10.0.0.1", "192.0.2.1:1234", "10.0.0.1"},
		{"remote host", nil, "", "192.0.2.1:1234", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.principal != nil {
				req = req.WithContext(models.WithPrincipal(req.Context(), *tt.principal))
			}
			if got := callerKey(req); got != tt.want {
				t.Errorf("callerKey = %q, want %q", got, tt.want)
			}
		})
	}
}

// Nothing listens on the discard port, so every Redis call fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:9",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl := NewRateLimiter(unreachableRedis(t), 1, time.Minute, logging.Discard())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rides/r1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestLocalRateLimiter(t *testing.T) {
	rl := NewLocalRateLimiter(2, time.Hour)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if got := call("192.0.2.1:1000", "/v1/rides"); got != want {
			t.Errorf("request %d: status = %d, want %d", i, got, want)
		}
	}
	if got := call("192.0.2.2:1000", "/v1/rides"); got != http.StatusOK {
		t.Errorf("other caller: status = %d, want 200", got)
	}
	if got := call("192.0.2.1:1000", "/v1/fares/estimate"); got != http.StatusOK {
		t.Errorf("other route: status = %d, want 200", got)
	}
}

package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aditya/ridedispatch/internal/logging"
)

func TestGateFailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		timeout  time.Duration
	}{
		{"provider error", &StaticProvider{Err: errors.New("boom")}, time.Second},
		{"provider timeout", &StaticProvider{Observation: Observation{Condition: "Tornado"}, Delay: 200 * time.Millisecond}, 20 * time.Millisecond},
		{"no provider", nil, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(tt.provider, tt.timeout, logging.Discard())
			v := gate.Check(context.Background(), 24.86, 67.00)
			if !v.IsSafe || v.Available || v.Severity != SeveritySafe {
				t.Fatalf("Check() = %+v, want safe unavailable verdict", v)
			}
			if v.Message != unavailableNotice {
				t.Errorf("Message = %q", v.Message)
			}
		})
	}
}

func TestGateClassifiesObservation(t *testing.T) {
	gate := NewGate(&StaticProvider{Observation: Observation{Condition: "Thunderstorm"}}, time.Second, logging.Discard())
	v := gate.Check(context.Background(), 0, 0)
	if v.IsSafe || v.Severity != SeveritySevere || !v.Available {
		t.Fatalf("Check() = %+v, want severe", v)
	}
}

func TestOpenWeatherClientObserve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("units") != "metric" || r.URL.Query().Get("appid") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"weather":[{"main":"Rain","description":"heavy intensity rain"}],
			"main":{"temp":18.2,"humidity":90},"wind":{"speed":11.3},"rain":{"1h":8.1},"dt":1700000000}`))
	}))
	defer srv.Close()

	client := NewOpenWeatherClient("key", srv.Client()).WithBaseURL(srv.URL)
	obs, err := client.Observe(context.Background(), 24.86, 67.00)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if obs.Condition != "Rain" || obs.Rain1h != 8.1 || obs.WindSpeed != 11.3 {
		t.Errorf("Observe() = %+v", obs)
	}
	if obs.Visibility != clearVisibilityM {
		t.Errorf("missing visibility should default to clear, got %v", obs.Visibility)
	}
	if got := Classify(*obs).Severity; got != SeveritySevere {
		t.Errorf("Classify(observed) = %v, want severe", got)
	}

	bad := NewOpenWeatherClient("wrong", srv.Client()).WithBaseURL(srv.URL)
	if _, err := bad.Observe(context.Background(), 0, 0); err == nil {
		t.Error("Observe() with bad key: want error")
	}
}

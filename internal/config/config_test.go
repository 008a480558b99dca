package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RejectPolicy != RejectPolicyRequeue {
		t.Errorf("RejectPolicy = %q, want %q", cfg.RejectPolicy, RejectPolicyRequeue)
	}
	if cfg.MatchingTopN != 5 || cfg.MatchingMinTraining != 3 {
		t.Errorf("matching defaults = %d/%d, want 5/3", cfg.MatchingTopN, cfg.MatchingMinTraining)
	}
	if cfg.WeatherTimeout != 5*time.Second {
		t.Errorf("WeatherTimeout = %v, want 5s", cfg.WeatherTimeout)
	}
	if cfg.FareBase != 100 || cfg.FarePerKm != 30 || cfg.FarePerMin != 2 {
		t.Errorf("fare defaults = %v/%v/%v", cfg.FareBase, cfg.FarePerKm, cfg.FarePerMin)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("REJECT_POLICY", "TERMINAL")
	t.Setenv("WEATHER_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RejectPolicy != RejectPolicyTerminal {
		t.Errorf("RejectPolicy = %q", cfg.RejectPolicy)
	}
	if cfg.WeatherTimeout != 750*time.Millisecond {
		t.Errorf("WeatherTimeout = %v", cfg.WeatherTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := &Config{
		Storage:             "sqlite",
		RejectPolicy:        "drop",
		MatchingTopN:        5,
		MatchingMinTraining: 3,
		TrackingSpeedKmh:    0,
		WeatherTimeout:      time.Second,
		RouteTimeout:        time.Second,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"STORAGE", "REJECT_POLICY", "TRACKING_SPEED_KMH"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

package weather

import (
	"strings"
	"testing"
)

func clearSky() Observation {
	return Observation{Condition: "Clear", Description: "clear sky", Visibility: 10000}
}

func TestClassifySingleChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Observation)
		want   Severity
	}{
		{"clear sky", func(o *Observation) {}, SeveritySafe},
		{"thunderstorm", func(o *Observation) { o.Condition = "Thunderstorm" }, SeveritySevere},
		{"tornado lower case", func(o *Observation) { o.Condition = "tornado" }, SeveritySevere},
		{"fog", func(o *Observation) { o.Condition = "Fog" }, SeverityModerate},
		{"smoke", func(o *Observation) { o.Condition = "Smoke" }, SeverityModerate},
		{"haze", func(o *Observation) { o.Condition = "Haze" }, SeverityMild},
		{"unknown condition", func(o *Observation) { o.Condition = "Snow" }, SeveritySafe},
		{"wind at moderate threshold", func(o *Observation) { o.WindSpeed = 10 }, SeveritySafe},
		{"moderate wind", func(o *Observation) { o.WindSpeed = 12 }, SeverityModerate},
		{"high wind", func(o *Observation) { o.WindSpeed = 16 }, SeveritySevere},
		{"low visibility", func(o *Observation) { o.Visibility = 800 }, SeverityModerate},
		{"unreported visibility", func(o *Observation) { o.Visibility = 0 }, SeveritySafe},
		{"moderate rain", func(o *Observation) { o.Rain1h = 3 }, SeverityModerate},
		{"heavy rain", func(o *Observation) { o.Rain1h = 8 }, SeveritySevere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := clearSky()
			tt.mutate(&obs)

			got := Classify(obs)
			if got.Severity != tt.want {
				t.Fatalf("Classify() severity = %v, want %v", got.Severity, tt.want)
			}
			if got.IsSafe != (tt.want != SeveritySevere) {
				t.Errorf("Classify() IsSafe = %v for %v", got.IsSafe, tt.want)
			}
			if !got.Available {
				t.Error("Classify() Available = false")
			}
		})
	}
}

func TestClassifyNeverDeescalates(t *testing.T) {
	mild := []func(*Observation){
		func(o *Observation) { o.Condition = "Haze" },
	}
	severe := []func(*Observation){
		func(o *Observation) { o.Condition = "Thunderstorm" },
		func(o *Observation) { o.WindSpeed = 20 },
		func(o *Observation) { o.Rain1h = 10 },
	}
	moderate := []func(*Observation){
		func(o *Observation) { o.WindSpeed = 11 },
		func(o *Observation) { o.Visibility = 500 },
		func(o *Observation) { o.Rain1h = 5 },
	}

	for i, m := range mild {
		for j, s := range severe {
			obs := clearSky()
			m(&obs)
			s(&obs)
			if got := Classify(obs).Severity; got != SeveritySevere {
				t.Errorf("mild[%d]+severe[%d] = %v, want severe", i, j, got)
			}
		}
		for j, md := range moderate {
			obs := clearSky()
			m(&obs)
			md(&obs)
			if got := Classify(obs).Severity; got != SeverityModerate {
				t.Errorf("mild[%d]+moderate[%d] = %v, want moderate", i, j, got)
			}
		}
	}

	// A severe condition followed by light readings stays severe.
	obs := clearSky()
	obs.Condition = "Squall"
	obs.WindSpeed = 11
	obs.Rain1h = 3
	if got := Classify(obs).Severity; got != SeveritySevere {
		t.Errorf("squall with moderate wind/rain = %v, want severe", got)
	}
}

func TestClassifyMessages(t *testing.T) {
	got := Classify(clearSky())
	if got.Message != favorableNotice || got.Flagged() {
		t.Errorf("clear message = %q, flagged = %v", got.Message, got.Flagged())
	}

	obs := clearSky()
	obs.Condition = "Haze"
	obs.Description = "haze"
	obs.WindSpeed = 12
	got = Classify(obs)
	if len(got.Alerts) != 2 {
		t.Fatalf("alerts = %v, want 2", got.Alerts)
	}
	if !strings.HasSuffix(got.Message, cautionNotice) {
		t.Errorf("flagged-safe message = %q, want caution notice", got.Message)
	}
	if !strings.Contains(got.Message, "Weather Notice: Haze") || !strings.Contains(got.Message, "43.2 km/h") {
		t.Errorf("message missing check texts: %q", got.Message)
	}

	obs = clearSky()
	obs.Rain1h = 9
	got = Classify(obs)
	if !strings.HasSuffix(got.Message, blockingNotice) {
		t.Errorf("unsafe message = %q, want blocking notice", got.Message)
	}
}

func TestSeverityOrderingAndText(t *testing.T) {
	if !(SeveritySafe < SeverityMild && SeverityMild < SeverityModerate && SeverityModerate < SeveritySevere) {
		t.Fatal("severity tiers are not ordered")
	}
	if got := SeveritySevere.Escalate(SeverityMild); got != SeveritySevere {
		t.Errorf("Escalate = %v", got)
	}

	b, _ := SeverityModerate.MarshalText()
	var s Severity
	if err := s.UnmarshalText(b); err != nil || s != SeverityModerate {
		t.Errorf("text round trip = %v, %v", s, err)
	}
	if _, err := ParseSeverity("extreme"); err == nil {
		t.Error("ParseSeverity(extreme) = nil error")
	}
}

func TestVerdictSummary(t *testing.T) {
	temp := 21.5
	obs := clearSky()
	obs.Temperature = &temp
	obs.WindSpeed = 5
	if got := Classify(obs).Summary(); got != "Clear Sky • 21.5°C • Wind: 18.0 km/h" {
		t.Errorf("Summary() = %q", got)
	}
	if got := Unavailable().Summary(); got != "Weather data unavailable" {
		t.Errorf("Unavailable().Summary() = %q", got)
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"clear sky", "Clear Sky"},
		{"HEAVY  rain", "Heavy Rain"},
		{"ümlaut öde", "Ümlaut Öde"},
		{"снег", "Снег"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := titleCase(tt.in); got != tt.want {
				t.Errorf("titleCase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

package weather

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	severeWindMS     = 15.0
	moderateWindMS   = 10.0
	minVisibilityM   = 1000.0
	heavyRainMMH     = 7.6
	moderateRainMMH  = 2.5
	clearVisibilityM = 10000.0
)

const (
	blockingNotice    = "For your safety, rides are currently restricted due to dangerous weather conditions."
	cautionNotice     = "Please exercise caution if you proceed with this ride."
	favorableNotice   = "Weather conditions are favorable for your ride."
	unavailableNotice = "Unable to fetch weather data. Please check conditions manually."
)

// conditionSeverity maps provider condition groups to a tier. Unlisted groups are safe.
var conditionSeverity = map[string]Severity{
	"thunderstorm": SeveritySevere,
	"tornado":      SeveritySevere,
	"squall":       SeveritySevere,
	"ash":          SeveritySevere,
	"dust":         SeverityModerate,
	"sand":         SeverityModerate,
	"fog":          SeverityModerate,
	"smoke":        SeverityModerate,
	"haze":         SeverityMild,
}

// Observation is a raw provider reading. WindSpeed is m/s, Visibility meters
// (<= 0 means not reported), Rain1h mm over the last hour.
type Observation struct {
	Condition   string    `json:"condition"`
	Description string    `json:"description,omitempty"`
	WindSpeed   float64   `json:"wind_speed"`
	Visibility  float64   `json:"visibility"`
	Rain1h      float64   `json:"rain_1h"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Verdict is the gate's classification of one observation.
type Verdict struct {
	Condition     string    `json:"condition"`
	Description   string    `json:"description,omitempty"`
	WindSpeed     float64   `json:"wind_speed"`
	Visibility    float64   `json:"visibility"`
	Precipitation float64   `json:"precipitation"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	Severity      Severity  `json:"severity"`
	IsSafe        bool      `json:"is_safe"`
	Available     bool      `json:"available"`
	Alerts        []string  `json:"alerts,omitempty"`
	Message       string    `json:"message"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Classify applies the condition, wind, visibility and precipitation checks in
// that order. Each check can only raise the running severity.
func Classify(obs Observation) Verdict {
	severity := SeveritySafe
	var alerts []string

	label := obs.Description
	if label == "" {
		label = obs.Condition
	}
	if tier, ok := conditionSeverity[strings.ToLower(strings.TrimSpace(obs.Condition))]; ok {
		switch tier {
		case SeveritySevere:
			alerts = append(alerts, "SEVERE WEATHER ALERT: "+titleCase(label))
		case SeverityModerate:
			alerts = append(alerts, "Weather Advisory: "+titleCase(label))
		default:
			alerts = append(alerts, "Weather Notice: "+titleCase(label))
		}
		severity = severity.Escalate(tier)
	}

	windKmh := obs.WindSpeed * 3.6
	switch {
	case obs.WindSpeed > severeWindMS:
		alerts = append(alerts, fmt.Sprintf("High Winds: %.1f km/h (Unsafe for riding)", windKmh))
		severity = severity.Escalate(SeveritySevere)
	case obs.WindSpeed > moderateWindMS:
		alerts = append(alerts, fmt.Sprintf("Moderate Winds: %.1f km/h", windKmh))
		severity = severity.Escalate(SeverityModerate)
	}

	visibility := obs.Visibility
	if visibility <= 0 {
		visibility = clearVisibilityM
	}
	if visibility < minVisibilityM {
		alerts = append(alerts, fmt.Sprintf("Low Visibility: %.0fm (Reduced visibility)", visibility))
		severity = severity.Escalate(SeverityModerate)
	}

	switch {
	case obs.Rain1h > heavyRainMMH:
		alerts = append(alerts, fmt.Sprintf("Heavy Rain: %.1fmm/h (Road conditions may be hazardous)", obs.Rain1h))
		severity = severity.Escalate(SeveritySevere)
	case obs.Rain1h > moderateRainMMH:
		alerts = append(alerts, fmt.Sprintf("Moderate Rain: %.1fmm/h", obs.Rain1h))
		severity = severity.Escalate(SeverityModerate)
	}

	isSafe := severity != SeveritySevere
	checkedAt := obs.ObservedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	return Verdict{
		Condition:     obs.Condition,
		Description:   obs.Description,
		WindSpeed:     obs.WindSpeed,
		Visibility:    visibility,
		Precipitation: obs.Rain1h,
		Temperature:   obs.Temperature,
		Humidity:      obs.Humidity,
		Severity:      severity,
		IsSafe:        isSafe,
		Available:     true,
		Alerts:        alerts,
		Message:       alertMessage(alerts, isSafe),
		CheckedAt:     checkedAt,
	}
}

// Unavailable is the fail-open verdict used when no observation could be retrieved.
func Unavailable() Verdict {
	return Verdict{
		Severity:  SeveritySafe,
		IsSafe:    true,
		Available: false,
		Message:   unavailableNotice,
		CheckedAt: time.Now().UTC(),
	}
}

// Flagged reports whether any check triggered.
func (v Verdict) Flagged() bool {
	return len(v.Alerts) > 0
}

// Summary is a one-line display string.
func (v Verdict) Summary() string {
	if !v.Available {
		return "Weather data unavailable"
	}
	condition := v.Description
	if condition == "" {
		condition = v.Condition
	}
	if condition == "" {
		condition = "Unknown"
	}
	temp := "N/A"
	if v.Temperature != nil {
		temp = fmt.Sprintf("%.1f", *v.Temperature)
	}
	return fmt.Sprintf("%s • %s°C • Wind: %.1f km/h", titleCase(condition), temp, v.WindSpeed*3.6)
}

func alertMessage(alerts []string, isSafe bool) string {
	if len(alerts) == 0 {
		return favorableNotice
	}
	msg := strings.Join(alerts, "\n")
	if !isSafe {
		return msg + "\n\n" + blockingNotice
	}
	return msg + "\n\n" + cautionNotice
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

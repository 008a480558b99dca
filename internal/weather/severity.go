package weather

import (
	"fmt"
	"strings"
)

// Severity is an ordered weather danger tier: Safe < Mild < Moderate < Severe.
type Severity int

const (
	SeveritySafe Severity = iota
	SeverityMild
	SeverityModerate
	SeveritySevere
)

var severityNames = [...]string{"safe", "mild", "moderate", "severe"}

func (s Severity) String() string {
	if s < SeveritySafe || s > SeveritySevere {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Escalate returns the higher of s and other. Severity never goes down.
func (s Severity) Escalate(other Severity) Severity {
	return max(s, other)
}

func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(v, name) {
			return Severity(i), nil
		}
	}
	return SeveritySafe, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

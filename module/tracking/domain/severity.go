package domain

import (
	"encoding/json"
	"fmt"
)

type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "none"
}

// Escalate raises the severity one level, capped at critical.
func (s Severity) Escalate() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// Reduce lowers the severity one level, floored at low.
func (s Severity) Reduce() Severity {
	if s <= SeverityLow {
		return SeverityLow
	}
	return s - 1
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal severity: invalid value %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

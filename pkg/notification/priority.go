package notification

import (
	"fmt"
	"strings"
)

// Priority orders notifications into strict tiers.
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	// PriorityCritical bypasses batching, rate-limit gating and do-not-disturb.
	PriorityCritical
)

// String returns the lowercase tier name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a tier name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidPayload, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidPayload, p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

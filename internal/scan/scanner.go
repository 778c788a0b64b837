package scan

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyCode is returned when a resolve is requested for an empty code
	ErrEmptyCode = errors.New("code is required")

	// ErrNotFound is returned by record stores when no document exists for a key
	ErrNotFound = errors.New("record not found")
)

// RecordStore defines the interface for the remote key-value document service
type RecordStore interface {
	// Get returns the document stored under key in collection, or ErrNotFound
	Get(ctx context.Context, collection, key string) (FieldMap, error)
	// Close releases the store's resources
	Close() error
}

// CheckResult is the outcome of comparing a scanned secondary code with the expected one
type CheckResult int

const (
	CheckUnknown CheckResult = iota
	CheckValid
	CheckInvalid
)

func (c CheckResult) String() string {
	switch c {
	case CheckValid:
		return "valid"
	case CheckInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c CheckResult) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *CheckResult) UnmarshalText(text []byte) error {
	switch string(text) {
	case "valid":
		*c = CheckValid
	case "invalid":
		*c = CheckInvalid
	case "unknown", "":
		*c = CheckUnknown
	default:
		return fmt.Errorf("unknown check result %q", text)
	}
	return nil
}

// CheckSecondaryCode compares a scanned code with the expected secondary code.
// Comparison is exact: case-sensitive and untrimmed.
func CheckSecondaryCode(scanned, expected string) CheckResult {
	if scanned == expected {
		return CheckValid
	}
	return CheckInvalid
}

// Status describes what a resolve call did to the resolved set
type Status string

const (
	StatusAdded     Status = "added"
	StatusDuplicate Status = "duplicate"
	StatusNotFound  Status = "not_found"
)

// Outcome is the typed result of a single resolve call
type Outcome struct {
	Code   string `json:"code"`
	Status Status `json:"status"`
	Record Record `json:"record,omitzero"`
}

// EventKind identifies a repository notification
type EventKind string

const (
	EventResolved EventKind = "resolved"
	EventFailed   EventKind = "resolve_failed"
)

// Event is published when the resolved set changes or a lookup fails
type Event struct {
	Kind   EventKind `json:"kind"`
	Code   string    `json:"code"`
	Record Record    `json:"record,omitzero"`
	Err    string    `json:"error,omitempty"`
}

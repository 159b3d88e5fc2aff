package correlate

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrelationMissing matches every lookup miss.
	ErrCorrelationMissing = errors.New("correlation missing")
	// ErrDuplicateRecord is returned when a metadata table repeats a record id.
	ErrDuplicateRecord = errors.New("duplicate record id")
	// ErrUnresolvedShard is returned when the text counterpart of a shard
	// cannot be located or fetched.
	ErrUnresolvedShard = errors.New("unresolved text shard")
	// ErrUnknownColumn is returned for a column the metadata table lacks.
	ErrUnknownColumn = errors.New("unknown metadata column")
	// ErrInvalidFraction is returned for a sample fraction outside (0, 1].
	ErrInvalidFraction = errors.New("sample fraction must be in (0, 1]")
)

// MissingError reports a record id absent from one side of the index.
type MissingError struct {
	Side   string
	Key    string
	Column string
}

func (e *MissingError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s %q has no %s value", e.Side, e.Key, e.Column)
	}
	return fmt.Sprintf("%s %q not found", e.Side, e.Key)
}

// Unwrap lets errors.Is match ErrCorrelationMissing.
func (e *MissingError) Unwrap() error {
	return ErrCorrelationMissing
}

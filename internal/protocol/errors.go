package protocol

import (
	"errors"
	"fmt"
)

// DecodeKind separates an unusable outer frame from an unusable inner payload.
type DecodeKind int

const (
	Malformed DecodeKind = iota
	InvalidPayload
)

func (k DecodeKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case InvalidPayload:
		return "invalid_payload"
	default:
		return "unknown"
	}
}

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrInvalidPayload = errors.New("invalid message payload")
)

// DecodeError is returned by Decode and DecodePayload. It matches
// ErrMalformed or ErrInvalidPayload under errors.Is.
type DecodeError struct {
	Kind   DecodeKind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.sentinel(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
}

func (e *DecodeError) sentinel() error {
	if e.Kind == InvalidPayload {
		return ErrInvalidPayload
	}
	return ErrMalformed
}

func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return &DecodeError{Kind: Malformed, Reason: fmt.Sprintf(format, args...)}
}

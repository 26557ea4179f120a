// Package faults defines the error kinds shared by the gateway, the stores and the control loop.
package faults

import (
	"errors"
	"fmt"
)

// Kind names a class of recoverable failure.
type Kind string

const (
	KindNotConnected         Kind = "not_connected"
	KindTimeout              Kind = "timeout"
	KindParseFailure         Kind = "parse_failure"
	KindNoAck                Kind = "no_ack"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindInsufficientData     Kind = "insufficient_data"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindUnknown              Kind = "unknown"
)

// Sentinels for errors.Is matching.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrTimeout              = errors.New("timeout")
	ErrParseFailure         = errors.New("parse failure")
	ErrNoAck                = errors.New("no acknowledgement")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

var sentinels = map[Kind]error{
	KindNotConnected:         ErrNotConnected,
	KindTimeout:              ErrTimeout,
	KindParseFailure:         ErrParseFailure,
	KindNoAck:                ErrNoAck,
	KindStoreUnavailable:     ErrStoreUnavailable,
	KindInsufficientData:     ErrInsufficientData,
	KindInvalidConfiguration: ErrInvalidConfiguration,
}

// Error carries a kind, the failed operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, sentinelText(e.Kind))
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, sentinelText(e.Kind), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Store marks err as a storage failure. Nil stays nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown when no kind applies.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

func sentinelText(k Kind) string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return string(k)
}

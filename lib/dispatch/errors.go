package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
)

// Code classifies a per-target delivery failure.
type Code int

const (
	CodeInternal Code = iota
	CodeResourceOffline
	CodeUnknownChannel
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeResourceOffline:
		return "resource_offline"
	case CodeUnknownChannel:
		return "unknown_channel"
	case CodeTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

var (
	// ErrResourceOffline means the target resource exists but is not
	// accepting stanzas.
	ErrResourceOffline = errors.New("resource offline")
	// ErrUnknownChannel means no delivery channel is bound to the target.
	ErrUnknownChannel = errors.New("unknown channel")
)

// DeliveryError is the failure recorded for one target.
type DeliveryError struct {
	Code   Code
	Target jid.ID
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %s: %v", e.Target, e.Code, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError builds a DeliveryError, inferring the code from err.
func NewDeliveryError(target jid.ID, err error) *DeliveryError {
	return &DeliveryError{Code: CodeOf(err), Target: target, Err: err}
}

// CodeOf classifies err.
func CodeOf(err error) Code {
	var de *DeliveryError
	switch {
	case err == nil:
		return CodeInternal
	case errors.As(err, &de):
		return de.Code
	case errors.Is(err, ErrResourceOffline):
		return CodeResourceOffline
	case errors.Is(err, ErrUnknownChannel):
		return CodeUnknownChannel
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// IsBounceable reports whether err means the recipient cannot be reached,
// in which case the sender is told the service is unavailable.
func IsBounceable(err error) bool {
	switch CodeOf(err) {
	case CodeResourceOffline, CodeUnknownChannel:
		return true
	default:
		return false
	}
}

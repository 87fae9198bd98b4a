package engine

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still pending")
)

// Kind classifies invocation failures. Every kind keeps the schedule alive; the
// kind only decides how loudly the failure is logged.
type Kind int

const (
	KindNone Kind = iota
	// KindTransient: network, version, or content source unreachable. Retried at the next period.
	KindTransient
	// KindMissingTarget: chat or user no longer resolvable.
	KindMissingTarget
	// KindDelivery: post, reaction, or private message send failed.
	KindDelivery
	// KindInternal: panic or unclassified error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient_fetch_failure"
	case KindMissingTarget:
		return "missing_target"
	case KindDelivery:
		return "delivery_failure"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type kindError struct {
	kind Kind
	err  error
}

func (e kindError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e kindError) Unwrap() error { return e.err }

func mark(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return kindError{kind: k, err: err}
}

// Transient marks err as a TransientFetchFailure.
//
//	return engine.Transient(fmt.Errorf("fetch latest release: %w", err))
func Transient(err error) error { return mark(KindTransient, err) }

// MissingTarget marks err as a MissingTarget failure.
func MissingTarget(err error) error { return mark(KindMissingTarget, err) }

// Delivery marks err as a DeliveryFailure.
func Delivery(err error) error { return mark(KindDelivery, err) }

// KindOf classifies err. Unmarked context deadlines count as transient since the
// next period is the retry boundary anyway.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ke kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

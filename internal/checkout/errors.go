package checkout

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindValidation            Kind = "validation"
	KindAddressCreationFailed Kind = "address_creation_failed"
	KindEstimationFailed      Kind = "estimation_failed"
	KindOrderCreationFailed   Kind = "order_creation_failed"
	KindOrderExpired          Kind = "order_expired"
	KindPaymentFailed         Kind = "payment_failed"
	KindPaymentCancelled      Kind = "payment_cancelled"
	KindGatewayLoadFailed     Kind = "gateway_load_failed"
	KindInvalidTransition     Kind = "invalid_transition"
	KindBusy                  Kind = "busy"
	KindStaleAttempt          Kind = "stale_attempt"
)

var (
	// ErrUnauthorized is what ports wrap when the upstream rejected the session.
	ErrUnauthorized = errors.New("unauthorized")
	ErrBusy         = errors.New("a payment is already being prepared")
	ErrStaleAttempt = errors.New("payment callback does not belong to the current attempt")
	ErrOrderExpired = errors.New("order expired")

	errCacheCleared = errors.New("order cache was cleared while the order was being created")
)

// Error is the only error type operations return. Message is meant for the shopper.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg, cause: cause}
	switch kind {
	case KindEstimationFailed, KindOrderCreationFailed, KindOrderExpired, KindPaymentFailed,
		KindPaymentCancelled, KindAddressCreationFailed, KindBusy:
		e.Retryable = true
	}
	return e
}

func validationError(msg string) *Error {
	return newError(KindValidation, msg, nil)
}

// KindOf reports the kind of an operation error, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, errCacheCleared)
}

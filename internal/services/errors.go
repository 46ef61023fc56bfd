package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
)

var (
	// ErrNotFound indicates the book, order or checkout session does not exist.
	ErrNotFound = errors.New("storefront: not found")
	// ErrValidation indicates invalid input or an illegal state transition.
	ErrValidation = errors.New("storefront: invalid input")
	// ErrNetwork indicates the backend or PSP could not complete the request.
	ErrNetwork = errors.New("storefront: upstream request failed")
	// ErrTimeout indicates generation did not finish within the poll timeout.
	ErrTimeout = errors.New("storefront: generation timed out")
	// ErrSignature indicates a webhook payload could not be authenticated.
	ErrSignature = errors.New("storefront: invalid webhook signature")
	// ErrPaymentRequired indicates the order has not been paid for.
	ErrPaymentRequired = errors.New("storefront: payment required")
	// ErrUnavailable indicates a required dependency is not configured.
	ErrUnavailable = errors.New("storefront: unavailable")
)

// translateBackendError maps backend client failures onto service sentinels.
func translateBackendError(err error) error {
	switch {
	case err == nil:
		return nil
	case backend.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

// networkError reports any non-cancellation failure as ErrNetwork.
func networkError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

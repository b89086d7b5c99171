package entities

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrMissingRecipient    = errors.New("recipient is required")
	ErrMissingSession      = errors.New("session identity is required")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrModelUnavailable     = errors.New("risk model unavailable")
	ErrLayerBlocked         = errors.New("transaction blocked by security layer")
	ErrChannelAttemptFailed = errors.New("channel attempt failed")
	ErrAllChannelsFailed    = errors.New("all payment channels failed")
	ErrSyncFailed           = errors.New("reconciliation failed")
)

// LayerBlockedError carries the verdict of the layer that stopped the transaction.
type LayerBlockedError struct {
	Layer  string
	Reason string
	Score  float64
}

func (e *LayerBlockedError) Error() string {
	return fmt.Sprintf("blocked by %s: %s (score %.3f)", e.Layer, e.Reason, e.Score)
}

func (e *LayerBlockedError) Unwrap() error {
	return ErrLayerBlocked
}

// ChannelAttemptError describes a single failed channel attempt.
type ChannelAttemptError struct {
	Channel Channel
	Err     error
}

func (e *ChannelAttemptError) Error() string {
	return fmt.Sprintf("%s attempt failed: %v", e.Channel, e.Err)
}

func (e *ChannelAttemptError) Unwrap() []error {
	return []error{ErrChannelAttemptFailed, e.Err}
}

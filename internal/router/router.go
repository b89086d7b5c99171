package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

var tracer = otel.Tracer("github.com/sand/paymesh/backend/internal/router")

// Sender carries a transaction over one channel.
type Sender interface {
	Channel() entities.Channel
	Send(ctx context.Context, session entities.Session, txn *entities.Transaction) (map[string]any, error)
}

// MultiChannelRouter tries the available channels in priority order until one succeeds.
type MultiChannelRouter struct {
	logger         *slog.Logger
	senders        map[entities.Channel]Sender
	attemptTimeout time.Duration
}

func NewMultiChannelRouter(logger *slog.Logger, attemptTimeout time.Duration, senders ...Sender) *MultiChannelRouter {
	if attemptTimeout <= 0 {
		attemptTimeout = ports.DefaultAttemptTimeout
	}

	m := make(map[entities.Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}

	return &MultiChannelRouter{
		logger:         logger,
		senders:        m,
		attemptTimeout: attemptTimeout,
	}
}

// Route attempts channels sequentially. On failure the returned result still lists every attempt.
func (r *MultiChannelRouter) Route(ctx context.Context, session entities.Session, txn *entities.Transaction, snapshot *entities.CapabilitySnapshot) (*entities.RouteResult, error) {
	ctx, span := tracer.Start(ctx, "MultiChannelRouter.Route")
	defer span.End()
	span.SetAttributes(attribute.String("tx.id", txn.ID))

	result := &entities.RouteResult{}
	var errs []error

	for _, channel := range entities.ChannelPriority {
		if !snapshot.Available(channel) {
			continue
		}
		sender, ok := r.senders[channel]
		if !ok {
			continue
		}

		attempt := r.attempt(ctx, session, txn, sender)
		result.Attempts = append(result.Attempts, attempt.AttemptResult)

		if attempt.err == nil {
			result.Channel = channel
			result.Diagnostics = attempt.Diagnostics
			span.SetAttributes(attribute.String("route.channel", string(channel)))

			r.logger.InfoContext(ctx, "Transaction routed",
				"tx_id", txn.ID,
				"channel", channel,
				"attempts", len(result.Attempts))

			return result, nil
		}

		errs = append(errs, &entities.ChannelAttemptError{Channel: channel, Err: attempt.err})
		r.logger.WarnContext(ctx, "Channel attempt failed, falling back",
			"tx_id", txn.ID,
			"channel", channel,
			"error", attempt.err)
	}

	err := fmt.Errorf("%w: %w", entities.ErrAllChannelsFailed, errors.Join(errs...))
	if len(errs) == 0 {
		err = fmt.Errorf("%w: no channel available", entities.ErrAllChannelsFailed)
	}
	span.SetStatus(codes.Error, err.Error())

	r.logger.ErrorContext(ctx, "All channels failed",
		"tx_id", txn.ID,
		"attempts", len(result.Attempts))

	return result, err
}

type attemptOutcome struct {
	entities.AttemptResult
	err error
}

func (r *MultiChannelRouter) attempt(ctx context.Context, session entities.Session, txn *entities.Transaction, sender Sender) (outcome attemptOutcome) {
	channel := sender.Channel()

	ctx, span := tracer.Start(ctx, "channel."+string(channel),
		trace.WithAttributes(attribute.String("tx.id", txn.ID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			outcome.err = fmt.Errorf("sender panicked: %v", rec)
		}
		outcome.Channel = channel
		outcome.Duration = time.Since(started)
		outcome.Success = outcome.err == nil
		if outcome.err != nil {
			outcome.Error = outcome.err.Error()
			span.SetStatus(codes.Error, outcome.Error)
		}
	}()

	outcome.Diagnostics, outcome.err = sender.Send(ctx, session, txn)

	return outcome
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/shared"
)

const FlagInvalidTime = "invalid_time"

// HistorySource supplies a sender's most recent successful transactions.
type HistorySource interface {
	RecentSuccessful(ctx context.Context, sender string, limit int) ([]entities.HistoryPoint, error)
}

// TrustConfig tunes the history based trust score.
type TrustConfig struct {
	Window      int
	MinHistory  int
	Sigma       float64
	Penalty     float64
	Neutral     float64
	ActiveFrom  string
	ActiveUntil string
}

// HistoryTrustProvider scores a candidate amount and hour against the sender's own history.
type HistoryTrustProvider struct {
	logger      *slog.Logger
	history     HistorySource
	cfg         TrustConfig
	activeFrom  float64
	activeUntil float64
}

func NewHistoryTrustProvider(logger *slog.Logger, history HistorySource, cfg TrustConfig) (*HistoryTrustProvider, error) {
	from, ok := shared.ParseTimeOfDay(cfg.ActiveFrom)
	if !ok {
		return nil, fmt.Errorf("invalid active_from %q", cfg.ActiveFrom)
	}
	until, ok := shared.ParseTimeOfDay(cfg.ActiveUntil)
	if !ok {
		return nil, fmt.Errorf("invalid active_until %q", cfg.ActiveUntil)
	}

	logger.Info("Initialized history trust provider",
		"window", cfg.Window,
		"min_history", cfg.MinHistory,
		"active_from", cfg.ActiveFrom,
		"active_until", cfg.ActiveUntil)

	return &HistoryTrustProvider{
		logger:      logger,
		history:     history,
		cfg:         cfg,
		activeFrom:  from,
		activeUntil: until,
	}, nil
}

// Trust computes 1 - penalty per risk factor, floored at zero.
func (p *HistoryTrustProvider) Trust(ctx context.Context, sender string, amount float64, timeOfDay string) (entities.TrustScore, error) {
	points, err := p.history.RecentSuccessful(ctx, sender, p.cfg.Window)
	if err != nil {
		return entities.TrustScore{}, fmt.Errorf("failed to load history: %w", err)
	}

	if len(points) < p.cfg.MinHistory {
		return entities.TrustScore{
			Score:       p.cfg.Neutral,
			RiskFactors: []string{entities.FlagNotEnoughHistory},
		}, nil
	}

	hour, ok := shared.ParseTimeOfDay(timeOfDay)
	if !ok {
		return entities.TrustScore{Score: 0, RiskFactors: []string{FlagInvalidTime}}, nil
	}

	factors := make([]string, 0, 2)

	mean, std := meanStd(points)
	if math.Abs(amount-mean) > p.cfg.Sigma*std {
		factors = append(factors, entities.FlagAmountOutlier)
	}

	if !p.withinActiveHours(hour) {
		factors = append(factors, entities.FlagOddHour)
	}

	score := math.Max(0, 1-p.cfg.Penalty*float64(len(factors)))

	p.logger.DebugContext(ctx, "Trust score computed",
		"sender", sender,
		"history", len(points),
		"mean", mean,
		"std", std,
		"score", score,
		"risk_factors", factors)

	return entities.TrustScore{Score: math.Round(score*100) / 100, RiskFactors: factors}, nil
}

// withinActiveHours is inclusive on both ends and supports windows crossing midnight.
func (p *HistoryTrustProvider) withinActiveHours(hour float64) bool {
	if p.activeFrom <= p.activeUntil {
		return hour >= p.activeFrom && hour <= p.activeUntil
	}
	return hour >= p.activeFrom || hour <= p.activeUntil
}

// meanStd returns the mean and population standard deviation of the amounts.
func meanStd(points []entities.HistoryPoint) (float64, float64) {
	var sum float64
	for _, p := range points {
		sum += p.Amount
	}
	mean := sum / float64(len(points))

	var sq float64
	for _, p := range points {
		d := p.Amount - mean
		sq += d * d
	}

	return mean, math.Sqrt(sq / float64(len(points)))
}

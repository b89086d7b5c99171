package entities

// Layer names, in gate order.
const (
	LayerContentPhishing      = "ContentPhishingLayer"
	LayerBehavioralFraud      = "BehavioralFraudLayer"
	LayerTrust                = "TrustLayer"
	LayerNotificationPhishing = "NotificationPhishingLayer"
)

// Trust layer flags.
const (
	FlagAmountOutlier    = "amount_outlier"
	FlagOddHour          = "odd_hour"
	FlagNotEnoughHistory = "not_enough_history"
	FlagModelUnavailable = "model_unavailable"
)

// LayerResult is a single layer's contribution to the verdict.
type LayerResult struct {
	Layer       string         `json:"layer"`
	Score       float64        `json:"score"`
	Blocked     bool           `json:"blocked"`
	Skipped     bool           `json:"skipped,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Flags       []string       `json:"flags,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// SecurityVerdict aggregates the layers that ran, in order.
type SecurityVerdict struct {
	Allowed       bool          `json:"allowed"`
	BlockingLayer string        `json:"blocking_layer,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	RiskScore     float64       `json:"risk_score"`
	Layers        []LayerResult `json:"layers"`
}

// Blocked returns the blocking error, or nil if the verdict allows the transaction.
func (v *SecurityVerdict) Blocked() error {
	if v.Allowed {
		return nil
	}
	return &LayerBlockedError{Layer: v.BlockingLayer, Reason: v.Reason, Score: v.RiskScore}
}

// Classification is a text classifier's answer.
type Classification struct {
	IsFlagged  bool    `json:"is_flagged"`
	Confidence float64 `json:"confidence"`
}

// AnomalyScore is the behavioral scorer's answer.
type AnomalyScore struct {
	Score       float64 `json:"score"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// TrustScore is the trust provider's answer.
type TrustScore struct {
	Score       float64  `json:"score"`
	RiskFactors []string `json:"risk_factors"`
}

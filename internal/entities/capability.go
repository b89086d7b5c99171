package entities

import (
	"time"
)

// Channel is a transport able to carry a transaction payload.
type Channel string

const (
	ChannelNetwork   Channel = "network"
	ChannelProximity Channel = "proximity-device"
	ChannelGateway   Channel = "messaging-gateway"
	ChannelLocal     Channel = "local-store"
)

// ChannelPriority is the fixed order in which the router tries channels.
var ChannelPriority = []Channel{ChannelNetwork, ChannelProximity, ChannelGateway, ChannelLocal}

// ChannelCapability is the readiness of a single channel.
type ChannelCapability struct {
	Available   bool           `json:"available"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// CapabilitySnapshot is an immutable, time-boxed readiness assessment of all channels.
type CapabilitySnapshot struct {
	Timestamp time.Time                     `json:"timestamp"`
	ValidFor  time.Duration                 `json:"valid_for"`
	Channels  map[Channel]ChannelCapability `json:"channels"`
}

// Available reports whether the snapshot marks the channel usable.
// Channels missing from the snapshot are treated as unavailable.
func (s *CapabilitySnapshot) Available(channel Channel) bool {
	if s == nil {
		return false
	}
	return s.Channels[channel].Available
}

// Expired reports whether a fresh probe is required.
func (s *CapabilitySnapshot) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !now.Before(s.Timestamp.Add(s.ValidFor))
}

// NewSnapshot builds a snapshot from a plain availability map. Handy for fixed capability sets.
func NewSnapshot(now time.Time, validFor time.Duration, available map[Channel]bool) *CapabilitySnapshot {
	channels := make(map[Channel]ChannelCapability, len(ChannelPriority))
	for _, ch := range ChannelPriority {
		channels[ch] = ChannelCapability{Available: available[ch]}
	}

	return &CapabilitySnapshot{Timestamp: now, ValidFor: validFor, Channels: channels}
}

// Device is a peer found by a proximity discovery scan.
type Device struct {
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	RSSI       int      `json:"rssi"`
	Services   []string `json:"services,omitempty"`
	Confidence float64  `json:"confidence"`
	DeviceType string   `json:"device_type"`
}

// AttemptResult is the outcome of trying a single channel.
type AttemptResult struct {
	Channel     Channel        `json:"channel"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// RouteResult is what the router returns on success.
type RouteResult struct {
	Channel     Channel         `json:"channel"`
	Diagnostics map[string]any  `json:"diagnostics,omitempty"`
	Attempts    []AttemptResult `json:"attempts"`
}

package probe

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

var paymentKeywords = []string{"pay", "pos", "terminal", "merchant", "card", "nfc", "wallet"}

const (
	keywordWeight      = 0.3
	strongSignalWeight = 0.2
	serviceWeight      = 0.4
	strongSignalRSSI   = -60
)

// DeviceClassifier scores discovered devices by how likely they are payment peers.
type DeviceClassifier struct {
	serviceUUIDs  map[string]struct{}
	minConfidence float64
}

func NewDeviceClassifier(serviceUUIDs []string, minConfidence float64) *DeviceClassifier {
	uuids := make(map[string]struct{}, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		uuids[strings.ToUpper(u)] = struct{}{}
	}

	return &DeviceClassifier{serviceUUIDs: uuids, minConfidence: minConfidence}
}

// Score fills in the confidence and device type of a device.
func (c *DeviceClassifier) Score(d entities.Device) entities.Device {
	d.Confidence = 0
	d.DeviceType = "unknown"

	name := strings.ToLower(d.Name)
	matches := 0
	for _, keyword := range paymentKeywords {
		if strings.Contains(name, keyword) {
			matches++
		}
	}
	if matches > 0 {
		d.Confidence += float64(matches) * keywordWeight
		d.DeviceType = "payment_terminal"
	}

	if d.RSSI != 0 && d.RSSI > strongSignalRSSI {
		d.Confidence += strongSignalWeight
	}

	for _, service := range d.Services {
		if _, ok := c.serviceUUIDs[strings.ToUpper(service)]; ok {
			d.Confidence += serviceWeight
			d.DeviceType = "verified_payment_device"
			break
		}
	}

	d.Confidence = math.Min(1, d.Confidence)

	return d
}

// Qualifying scores all devices and returns those at or above the minimum confidence,
// best first.
func (c *DeviceClassifier) Qualifying(devices []entities.Device) []entities.Device {
	qualified := make([]entities.Device, 0, len(devices))
	for _, d := range devices {
		scored := c.Score(d)
		if scored.Confidence >= c.minConfidence {
			qualified = append(qualified, scored)
		}
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].Confidence > qualified[j].Confidence
	})

	return qualified
}

// ScanQualifying runs a time-boxed scan and keeps the qualifying devices.
func ScanQualifying(ctx context.Context, scanner ports.DeviceScanner, classifier *DeviceClassifier, timeout time.Duration) ([]entities.Device, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := scanner.Scan(ctx)
	if err != nil {
		return nil, 0, err
	}

	return classifier.Qualifying(devices), len(devices), nil
}

// ProximityChecker reports the proximity channel available when a qualifying device is nearby.
type ProximityChecker struct {
	logger     *slog.Logger
	scanner    ports.DeviceScanner
	classifier *DeviceClassifier
	timeout    time.Duration
}

func NewProximityChecker(logger *slog.Logger, scanner ports.DeviceScanner, classifier *DeviceClassifier, timeout time.Duration) *ProximityChecker {
	return &ProximityChecker{
		logger:     logger,
		scanner:    scanner,
		classifier: classifier,
		timeout:    timeout,
	}
}

func (p *ProximityChecker) Check(ctx context.Context) entities.ChannelCapability {
	devices, total, err := ScanQualifying(ctx, p.scanner, p.classifier, p.timeout)
	if err != nil {
		p.logger.WarnContext(ctx, "Proximity scan failed", "error", err)
		return entities.ChannelCapability{Diagnostics: map[string]any{"error": err.Error()}}
	}

	diagnostics := map[string]any{
		"total_devices_found": total,
		"payment_devices":     len(devices),
	}
	if len(devices) > 0 {
		diagnostics["best_device"] = devices[0]
	}

	return entities.ChannelCapability{Available: len(devices) > 0, Diagnostics: diagnostics}
}

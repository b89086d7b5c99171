package shared

import (
	"os"
	"strconv"
	"strings"
)

const EnvSimulationMode = "PAYMESH_SIMULATION_MODE"

// IsSimulationMode checks if transports should be simulated via environment variable
func IsSimulationMode() bool {
	mode := os.Getenv(EnvSimulationMode)
	return strings.ToLower(mode) == "true" || strings.ToLower(mode) == "1"
}

// ParseTimeOfDay converts "HH:MM" into fractional hours.
func ParseTimeOfDay(s string) (float64, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}

	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}

	return float64(hour) + float64(minute)/60, true
}

package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/entities"
)

func TestAllInterpolatesTransaction(t *testing.T) {
	txn := &entities.Transaction{ID: "txn-1", Recipient: "9876543210", Amount: 250.5, CreatedAt: time.Now()}

	messages := All(txn)
	require.Len(t, messages, len(Kinds))

	for i, m := range messages {
		require.Equal(t, Kinds[i], m.Kind)
		require.Contains(t, m.Body, "INR 250.5")
		require.Contains(t, m.Body, "9876543210")
		require.Contains(t, m.Body, "txn-1")
	}
}

func TestRiskLevel(t *testing.T) {
	require.Equal(t, "LOW", RiskLevel(0.3))
	require.Equal(t, "MEDIUM", RiskLevel(0.31))
	require.Equal(t, "HIGH", RiskLevel(0.7))
	require.Equal(t, "CRITICAL", RiskLevel(0.81))
}

package clients

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/voucher"
)

// LoopbackExchanger plays the receiving device: it verifies vouchers and remembers them.
type LoopbackExchanger struct {
	logger *slog.Logger

	mu       sync.Mutex
	received map[string]*voucher.Voucher
}

func NewLoopbackExchanger(logger *slog.Logger) *LoopbackExchanger {
	return &LoopbackExchanger{logger: logger, received: make(map[string]*voucher.Voucher)}
}

func (e *LoopbackExchanger) Exchange(ctx context.Context, device entities.Device, payload []byte, signature []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v, err := voucher.Verify(payload, signature)
	if err != nil {
		return fmt.Errorf("device %s rejected voucher: %w", device.Address, err)
	}
	if v.Device != device.Address {
		return fmt.Errorf("voucher addressed to %s, not %s", v.Device, device.Address)
	}

	e.mu.Lock()
	e.received[v.TxID] = v
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Voucher accepted by device",
		"tx_id", v.TxID,
		"device", device.Name,
		"address", device.Address)

	return nil
}

// Received returns the voucher accepted for the transaction, if any.
func (e *LoopbackExchanger) Received(txID string) (*voucher.Voucher, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.received[txID]
	return v, ok
}

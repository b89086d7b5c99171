package voucher

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/sand/paymesh/backend/internal/entities"
)

var ErrInvalidSignature = errors.New("invalid voucher signature")

// Voucher is the payment promise handed to a nearby device when there is no network.
type Voucher struct {
	TxID      string    `json:"tx_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	Device    string    `json:"device"`
	Issuer    string    `json:"issuer"`
}

// Signer holds the device key derived from the wallet mnemonic.
type Signer struct {
	logger  *slog.Logger
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner derives the signing key at the given child index.
// An empty mnemonic generates a fresh one, which is fine for simulation but not for a real device.
func NewSigner(logger *slog.Logger, mnemonic string, index uint32) (*Signer, error) {
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, fmt.Errorf("failed to generate entropy: %w", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
		}
		logger.Warn("Wallet mnemonic not configured, using an ephemeral key")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid wallet mnemonic")
	}

	masterKey, err := bip32.NewMasterKey(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}

	childKey, err := masterKey.NewChildKey(bip32.FirstHardenedChild + index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive child key: %w", err)
	}

	privKey, err := crypto.ToECDSA(childKey.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to convert key: %w", err)
	}

	address := crypto.PubkeyToAddress(privKey.PublicKey)
	logger.Info("Voucher signer initialized", "address", address.Hex())

	return &Signer{logger: logger, key: privKey, address: address}, nil
}

// Address is the issuer address recipients verify against.
func (s *Signer) Address() common.Address {
	return s.address
}

// Issue builds and signs a voucher for the transaction addressed to the device.
func (s *Signer) Issue(txn *entities.Transaction, device entities.Device) ([]byte, []byte, error) {
	payload, err := json.Marshal(Voucher{
		TxID:      txn.ID,
		Sender:    txn.Sender,
		Recipient: txn.Recipient,
		Amount:    txn.Amount,
		CreatedAt: txn.CreatedAt.UTC(),
		Device:    device.Address,
		Issuer:    s.address.Hex(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode voucher: %w", err)
	}

	signature, err := crypto.Sign(crypto.Keccak256(payload), s.key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign voucher: %w", err)
	}

	return payload, signature, nil
}

// Verify checks the signature against the issuer address embedded in the payload
// and returns the decoded voucher.
func Verify(payload, signature []byte) (*Voucher, error) {
	var v Voucher
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("failed to decode voucher: %w", err)
	}
	if !common.IsHexAddress(v.Issuer) {
		return nil, fmt.Errorf("%w: bad issuer %q", ErrInvalidSignature, v.Issuer)
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(v.Issuer) {
		return nil, ErrInvalidSignature
	}

	return &v, nil
}

package settlement

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/pkg/apperr"
)

// Status of a settlement transaction on-chain
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record is the verifier's view of a settlement transaction. It is queried,
// not stored.
type Record struct {
	TxHash             string          `json:"tx_hash"`
	Status             Status          `json:"status"`
	SettlementCurrency string          `json:"settlement_currency"`
	SettlementAmount   decimal.Decimal `json:"settlement_amount"`
}

// chainReader is the slice of the Ethereum client the verifier needs
type chainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Verifier checks finality of the buyer's fiat to crypto conversion
type Verifier struct {
	chain          chainReader
	nativeCurrency string
	logger         *zap.Logger
}

// NewVerifier creates a new settlement verifier
func NewVerifier(chain chainReader, nativeCurrency string, logger *zap.Logger) *Verifier {
	if nativeCurrency == "" {
		nativeCurrency = "eth"
	}
	return &Verifier{chain: chain, nativeCurrency: nativeCurrency, logger: logger}
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// VerifySettlement maps the on-chain receipt of txHash to a settlement
// record. A present receipt never implies success: a reverted transaction
// still produces one, so the status flag decides.
func (v *Verifier) VerifySettlement(ctx context.Context, txHash string) (*Record, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, apperr.Validation("transaction hash %q is malformed", txHash)
	}

	hash := common.HexToHash(txHash)
	record := &Record{
		TxHash:             txHash,
		SettlementCurrency: v.nativeCurrency,
	}

	var receipt *types.Receipt
	err := retry.Do(func() error {
		var rErr error
		receipt, rErr = v.chain.TransactionReceipt(ctx, hash)
		if errors.Is(rErr, ethereum.NotFound) {
			// No receipt yet is a final answer for this attempt, not a node fault
			return nil
		}
		return rErr
	}, retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true))
	if err != nil {
		return nil, apperr.Transient(err, "failed to query settlement receipt for %s", txHash)
	}

	if receipt == nil {
		record.Status = StatusPending
		v.logger.Debug("settlement receipt absent", zap.String("tx_hash", txHash))
		return record, nil
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		record.Status = StatusConfirmed
	} else {
		record.Status = StatusFailed
	}

	// The transferred value is informational; a node hiccup here must not
	// flip an already-determined status.
	if tx, _, txErr := v.chain.TransactionByHash(ctx, hash); txErr == nil && tx != nil && tx.Value() != nil {
		record.SettlementAmount = decimal.NewFromBigInt(tx.Value(), -18)
	}

	v.logger.Info("settlement verified",
		zap.String("tx_hash", txHash),
		zap.String("status", string(record.Status)),
		zap.String("amount", record.SettlementAmount.String()))

	return record, nil
}

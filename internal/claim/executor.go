package claim

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"cryptoramp/onramp-backend/pkg/apperr"
)

// Executor owns claim submission and confirmation waiting. Every execution
// consults the ledger before touching the chain, which is what makes retried
// and concurrent requests converge on a single claim transaction per key.
type Executor struct {
	ledger           Ledger
	chain            ChainSubmitter
	currency         string
	pricePerTokenWei string
	logger           *zap.Logger
}

// NewExecutor creates a new claim executor
func NewExecutor(ledger Ledger, chain ChainSubmitter, currency, pricePerTokenWei string, logger *zap.Logger) *Executor {
	return &Executor{
		ledger:           ledger,
		chain:            chain,
		currency:         currency,
		pricePerTokenWei: pricePerTokenWei,
		logger:           logger,
	}
}

// ExecuteClaim delivers the asset for one settled payment. Exactly one
// on-chain submission happens per idempotency key; losers of the ledger race
// and repeated callers get the winner's record.
func (e *Executor) ExecuteClaim(ctx context.Context, req *Request) (*Record, error) {
	if !common.IsHexAddress(req.ReceiverWallet) {
		return nil, apperr.Validation("receiver wallet %q is not a valid address", req.ReceiverWallet)
	}
	if req.Quantity <= 0 {
		return nil, apperr.Validation("claim quantity must be positive, got %d", req.Quantity)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(req.SettlementTxHash, req.ReceiverWallet)
	}

	candidate := &Record{
		IdempotencyKey:   key,
		SettlementTxHash: req.SettlementTxHash,
		ReceiverWallet:   req.ReceiverWallet,
		Quantity:         req.Quantity,
		Currency:         e.currency,
		PricePerTokenWei: e.pricePerTokenWei,
		ClaimArgs:        e.claimArgs(req),
		Status:           StatusSubmitted,
		SubmittedAt:      time.Now(),
	}

	existing, inserted, err := e.ledger.InsertIfAbsent(ctx, candidate)
	if err != nil {
		return nil, apperr.Transient(err, "idempotency ledger unavailable")
	}

	if !inserted {
		return e.resumeExisting(ctx, existing)
	}

	return e.submitAndAwait(ctx, candidate)
}

// resumeExisting handles a key that already has a ledger record: the
// no-double-mint path.
func (e *Executor) resumeExisting(ctx context.Context, record *Record) (*Record, error) {
	logger := e.logger.With(zap.String("idempotency_key", record.IdempotencyKey))

	switch record.Status {
	case StatusConfirmed:
		logger.Info("claim already confirmed, returning existing record",
			zap.String("claim_tx_hash", record.ClaimTxHash))
		return record, nil
	case StatusReverted:
		logger.Warn("claim previously reverted, not resubmitting",
			zap.String("claim_tx_hash", record.ClaimTxHash))
		return record, apperr.ClaimReverted(record.ClaimTxHash)
	}

	// Submitted. With no transaction hash another request is mid-broadcast
	// (or crashed before it); either way this request must not submit.
	if record.ClaimTxHash == "" {
		logger.Info("claim reservation held elsewhere, reporting pending")
		return record, apperr.PendingConfirmation(record.IdempotencyKey)
	}

	logger.Info("resuming confirmation wait for existing claim",
		zap.String("claim_tx_hash", record.ClaimTxHash))
	return e.awaitConfirmation(ctx, record)
}

// submitAndAwait runs the single-submission path for a freshly reserved key
func (e *Executor) submitAndAwait(ctx context.Context, record *Record) (*Record, error) {
	logger := e.logger.With(zap.String("idempotency_key", record.IdempotencyKey))

	receiver := common.HexToAddress(record.ReceiverWallet)
	txHash, err := e.chain.SubmitClaim(ctx, receiver, big.NewInt(record.Quantity))
	if err != nil {
		if errors.Is(err, ErrBroadcastAmbiguous) {
			// The transaction may already be in the mempool. The hashless
			// reservation stays so no retry can broadcast a second claim;
			// the reconcile sweep surfaces it for operator resolution.
			logger.Warn("claim broadcast outcome unknown, keeping reservation", zap.Error(err))
			return record, apperr.PendingConfirmation(record.IdempotencyKey)
		}
		// The node rejected the transaction before it reached the mempool;
		// free the key for a clean retry.
		if relErr := e.ledger.Release(ctx, record.IdempotencyKey); relErr != nil {
			logger.Error("failed to release claim reservation", zap.Error(relErr))
		}
		logger.Warn("claim submission rejected by node", zap.Error(err))
		return nil, apperr.Transient(err, "claim submission failed")
	}

	record.ClaimTxHash = txHash
	// Recorded as submitted before the wait, so a crash mid-wait leaves a
	// recoverable record rather than silence.
	if err := e.ledger.SetClaimTxHash(ctx, record.IdempotencyKey, txHash); err != nil {
		logger.Error("failed to record submitted claim", zap.Error(err))
		return record, apperr.Transient(err, "failed to record submitted claim %s", txHash)
	}

	return e.awaitConfirmation(ctx, record)
}

// awaitConfirmation finalizes a submitted record from its on-chain outcome
func (e *Executor) awaitConfirmation(ctx context.Context, record *Record) (*Record, error) {
	logger := e.logger.With(
		zap.String("idempotency_key", record.IdempotencyKey),
		zap.String("claim_tx_hash", record.ClaimTxHash))

	result, err := e.chain.WaitForConfirmation(ctx, record.ClaimTxHash)
	if err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			logger.Info("claim still unconfirmed after wait window")
			return record, apperr.PendingConfirmation(record.ClaimTxHash)
		}
		logger.Warn("confirmation wait failed", zap.Error(err))
		return record, apperr.Transient(err, "confirmation wait failed for %s", record.ClaimTxHash)
	}

	if !result.Successful {
		if err := e.ledger.MarkReverted(ctx, record.IdempotencyKey, "CLAIM_REVERTED", "claim transaction reverted on-chain"); err != nil {
			logger.Error("failed to mark claim reverted", zap.Error(err))
		}
		record.Status = StatusReverted
		logger.Warn("claim transaction reverted", zap.Uint64("block", result.BlockNumber))
		return record, apperr.ClaimReverted(record.ClaimTxHash)
	}

	confirmedAt := time.Now()
	if err := e.ledger.MarkConfirmed(ctx, record.IdempotencyKey, confirmedAt); err != nil {
		logger.Error("failed to mark claim confirmed", zap.Error(err))
		return record, apperr.Transient(err, "failed to persist confirmation of %s", record.ClaimTxHash)
	}
	record.Status = StatusConfirmed
	record.ConfirmedAt = &confirmedAt

	logger.Info("claim transaction confirmed", zap.Uint64("block", result.BlockNumber))
	return record, nil
}

func (e *Executor) claimArgs(req *Request) datatypes.JSON {
	args := map[string]any{
		"currency":        e.currency,
		"price_per_token": e.pricePerTokenWei,
		"allowlist_proof": map[string]any{
			"proof":                     []string{},
			"quantity_limit_per_wallet": 0,
		},
		"quantity": req.Quantity,
	}
	argsJSON, _ := json.Marshal(args)
	return datatypes.JSON(argsJSON)
}

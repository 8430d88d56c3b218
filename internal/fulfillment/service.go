package fulfillment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cryptoramp/onramp-backend/internal/claim"
	"cryptoramp/onramp-backend/internal/notifications"
	"cryptoramp/onramp-backend/internal/settlement"
	"cryptoramp/onramp-backend/pkg/apperr"
	"cryptoramp/onramp-backend/pkg/workflows"
)

// SettlementVerifier checks finality of the buyer's settlement transaction
type SettlementVerifier interface {
	VerifySettlement(ctx context.Context, txHash string) (*settlement.Record, error)
}

// ClaimExecutor submits and confirms the on-chain claim
type ClaimExecutor interface {
	ExecuteClaim(ctx context.Context, req *claim.Request) (*claim.Record, error)
}

// NotificationDispatcher sends the purchase confirmation email
type NotificationDispatcher interface {
	SendConfirmation(ctx context.Context, buyerEmail string, record *claim.Record) (*notifications.Result, error)
}

// Service sequences settlement verification, claim execution and
// notification for one fulfillment request. Requests proceed independently;
// the claim ledger is the only shared state between them.
type Service struct {
	verifier    SettlementVerifier
	executor    ClaimExecutor
	dispatcher  NotificationDispatcher
	ledger      claim.Ledger
	maxQuantity int64
	sm          *workflows.StateMachine
	logger      *zap.Logger
}

// NewService creates a new fulfillment orchestrator. maxQuantity caps the
// client-supplied claim quantity; zero or below falls back to single-token
// purchases.
func NewService(verifier SettlementVerifier, executor ClaimExecutor, dispatcher NotificationDispatcher, ledger claim.Ledger, maxQuantity int64, logger *zap.Logger) *Service {
	if maxQuantity <= 0 {
		maxQuantity = 1
	}
	return &Service{
		verifier:    verifier,
		executor:    executor,
		dispatcher:  dispatcher,
		ledger:      ledger,
		maxQuantity: maxQuantity,
		sm:          workflows.NewFulfillmentStateMachine(),
		logger:      logger,
	}
}

// Fulfill runs the pipeline for one settled payment. Repeated calls with the
// same (tx_hash, wallet) converge on the same claim transaction.
func (s *Service) Fulfill(ctx context.Context, req *Request) (*Result, error) {
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 || quantity > s.maxQuantity {
		return nil, apperr.Validation("claim quantity must be between 1 and %d, got %d", s.maxQuantity, req.Quantity)
	}

	key := claim.DeriveIdempotencyKey(req.TxHash, req.CustomerWalletAddress)
	logger := s.logger.With(
		zap.String("idempotency_key", key),
		zap.String("settlement_tx_hash", req.TxHash))

	state := StateReceived

	// Stage 1: settlement must be confirmed before any claim is submitted
	settlementRecord, err := s.verifier.VerifySettlement(ctx, req.TxHash)
	if err != nil {
		logger.Warn("settlement verification failed", zap.Error(err))
		return nil, err
	}
	switch settlementRecord.Status {
	case settlement.StatusPending:
		s.transition(logger, &state, StateSettlementNotReady)
		logger.Info("settlement not confirmed yet, no claim submitted")
		return nil, apperr.SettlementNotReady(req.TxHash)
	case settlement.StatusFailed:
		s.transition(logger, &state, StateSettlementFailed)
		logger.Warn("settlement reverted on-chain, no claim submitted")
		return nil, apperr.SettlementFailed(req.TxHash)
	}
	s.transition(logger, &state, StateSettlementChecked)

	// Stage 2: idempotent claim execution
	claimRecord, err := s.executor.ExecuteClaim(ctx, &claim.Request{
		SettlementTxHash: req.TxHash,
		ReceiverWallet:   req.CustomerWalletAddress,
		Quantity:         quantity,
		IdempotencyKey:   key,
	})
	if err != nil {
		switch {
		case apperr.IsCode(err, apperr.CodePendingConfirmation):
			s.transition(logger, &state, StateClaimSubmitted)
			s.transition(logger, &state, StatePendingConfirmation)
			logger.Info("claim awaiting confirmation, caller should re-poll")
		case apperr.IsCode(err, apperr.CodeClaimReverted):
			s.transition(logger, &state, StateClaimSubmitted)
			s.transition(logger, &state, StateClaimReverted)
			logger.Warn("claim reverted, operator review required")
		default:
			logger.Warn("claim execution failed", zap.Error(err))
		}
		return nil, err
	}
	s.transition(logger, &state, StateClaimSubmitted)
	s.transition(logger, &state, StateConfirmed)

	// Stage 3: best-effort notification. A failure here degrades the result
	// but never unwinds the confirmed claim.
	result := &Result{
		ClaimTxHash: claimRecord.ClaimTxHash,
		State:       StateConfirmed,
	}
	notification, notifyErr := s.dispatcher.SendConfirmation(ctx, req.CustomerEmail, claimRecord)
	if notifyErr != nil {
		result.NotificationStatus = notifications.StatusFailed
		logger.Warn("confirmation notification failed, claim remains fulfilled",
			zap.String("claim_tx_hash", claimRecord.ClaimTxHash),
			zap.Error(notifyErr))
		return result, nil
	}
	result.NotificationStatus = notification.Status
	s.transition(logger, &state, StateNotified)
	result.State = StateNotified

	logger.Info("fulfillment complete",
		zap.String("claim_tx_hash", claimRecord.ClaimTxHash),
		zap.String("notification_status", string(result.NotificationStatus)))
	return result, nil
}

// GetStatus returns the ledger-backed state of a fulfillment for polling
func (s *Service) GetStatus(ctx context.Context, txHash, wallet string) (*StatusView, error) {
	key := claim.DeriveIdempotencyKey(txHash, wallet)
	record, err := s.ledger.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, claim.ErrNotFound) {
			return nil, apperr.Validation("no fulfillment found for %s / %s", txHash, wallet)
		}
		return nil, apperr.Transient(err, "idempotency ledger unavailable")
	}
	return &StatusView{
		IdempotencyKey:   record.IdempotencyKey,
		SettlementTxHash: record.SettlementTxHash,
		ReceiverWallet:   record.ReceiverWallet,
		ClaimTxHash:      record.ClaimTxHash,
		Status:           string(record.Status),
		SubmittedAt:      record.SubmittedAt,
		ConfirmedAt:      record.ConfirmedAt,
		ErrorCode:        record.ErrorCode,
		ErrorMessage:     record.ErrorMessage,
	}, nil
}

// transition advances the pipeline state, guarding against table violations
func (s *Service) transition(logger *zap.Logger, state *string, to string) {
	if !s.sm.CanTransition(*state, to) {
		logger.Error("invalid pipeline transition",
			zap.String("from", *state), zap.String("to", to))
		return
	}
	*state = to
}

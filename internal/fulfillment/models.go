package fulfillment

import (
	"time"

	"cryptoramp/onramp-backend/internal/notifications"
)

// Pipeline states. RECEIVED through NOTIFIED is the success path; the rest
// are failure exits.
const (
	StateReceived            = "RECEIVED"
	StateSettlementChecked   = "SETTLEMENT_CHECKED"
	StateClaimSubmitted      = "CLAIM_SUBMITTED"
	StateConfirmed           = "CONFIRMED"
	StateNotified            = "NOTIFIED"
	StateSettlementNotReady  = "SETTLEMENT_NOT_READY"
	StateSettlementFailed    = "SETTLEMENT_FAILED"
	StateClaimReverted       = "CLAIM_REVERTED"
	StatePendingConfirmation = "PENDING_CONFIRMATION"
)

// Request drives one fulfillment attempt. It is sent by the client once it
// observes the on-ramp payment complete.
type Request struct {
	TxHash                string `json:"tx_hash" binding:"required"`
	CustomerWalletAddress string `json:"customer_wallet_address" binding:"required"`
	CustomerEmail         string `json:"customer_email" binding:"required,email"`
	// Quantity defaults to one token and is capped by the configured
	// max_claim_quantity; the claim record snapshots the accepted value.
	Quantity int64 `json:"quantity"`
}

// Result is the terminal artifact of a successful fulfillment
type Result struct {
	ClaimTxHash        string               `json:"transaction_hash"`
	NotificationStatus notifications.Status `json:"notification_status"`
	State              string               `json:"state"`
}

// StatusView is the ledger-backed view of a fulfillment exposed for polling
type StatusView struct {
	IdempotencyKey   string     `json:"idempotency_key"`
	SettlementTxHash string     `json:"settlement_tx_hash"`
	ReceiverWallet   string     `json:"receiver_wallet"`
	ClaimTxHash      string     `json:"claim_tx_hash,omitempty"`
	Status           string     `json:"status"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	ErrorCode        *string    `json:"error_code,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
}

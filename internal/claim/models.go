package claim

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status represents the lifecycle status of a claim transaction
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
)

// Record is the durable ledger entry for one claim transaction. Exactly one
// record exists per (settlement tx hash, receiver wallet) pair; the unique
// idempotency key enforces that at the database level.
type Record struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	IdempotencyKey   string    `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	SettlementTxHash string    `json:"settlement_tx_hash" gorm:"not null;index"`
	ReceiverWallet   string    `json:"receiver_wallet" gorm:"not null;index"`

	// Claim call parameters
	Quantity         int64          `json:"quantity" gorm:"not null"`
	Currency         string         `json:"currency"`
	PricePerTokenWei string         `json:"price_per_token_wei"`
	ClaimArgs        datatypes.JSON `json:"claim_args" gorm:"default:'{}'"`

	ClaimTxHash string `json:"claim_tx_hash" gorm:"index"`
	Status      Status `json:"status" gorm:"default:'submitted';index"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the ledger table name
func (Record) TableName() string {
	return "claim_records"
}

// DeriveIdempotencyKey builds the ledger key from the settlement transaction
// hash and the receiver wallet. Case differences in hex must not produce
// distinct keys.
func DeriveIdempotencyKey(settlementTxHash, receiverWallet string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(settlementTxHash) + ":" + strings.ToLower(receiverWallet)))
	return hex.EncodeToString(sum[:])
}

// Request carries the parameters for one claim execution
type Request struct {
	SettlementTxHash string
	ReceiverWallet   string
	Quantity         int64
	IdempotencyKey   string
}

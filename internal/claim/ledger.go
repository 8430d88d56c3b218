package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no ledger record exists for a key
var ErrNotFound = errors.New("claim record not found")

// Ledger is the durable idempotency store for claim transactions
type Ledger interface {
	// InsertIfAbsent atomically reserves the idempotency key. When the key is
	// already taken it returns the existing record and inserted == false.
	InsertIfAbsent(ctx context.Context, record *Record) (existing *Record, inserted bool, err error)
	GetByKey(ctx context.Context, idempotencyKey string) (*Record, error)
	SetClaimTxHash(ctx context.Context, idempotencyKey, claimTxHash string) error
	MarkConfirmed(ctx context.Context, idempotencyKey string, confirmedAt time.Time) error
	MarkReverted(ctx context.Context, idempotencyKey, errorCode, errorMessage string) error
	Release(ctx context.Context, idempotencyKey string) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error)
}

// GormLedger implements Ledger on Postgres
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates the ledger and migrates its table
func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate claim ledger: %w", err)
	}
	return &GormLedger{db: db}, nil
}

// InsertIfAbsent relies on the unique index plus ON CONFLICT DO NOTHING, so
// two concurrent requests for the same key can never both insert.
func (l *GormLedger) InsertIfAbsent(ctx context.Context, record *Record) (*Record, bool, error) {
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to insert claim record: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		existing, err := l.GetByKey(ctx, record.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return record, true, nil
}

func (l *GormLedger) GetByKey(ctx context.Context, idempotencyKey string) (*Record, error) {
	var record Record
	err := l.db.WithContext(ctx).First(&record, "idempotency_key = ?", idempotencyKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load claim record: %w", err)
	}
	return &record, nil
}

func (l *GormLedger) SetClaimTxHash(ctx context.Context, idempotencyKey, claimTxHash string) error {
	return l.updateByKey(ctx, idempotencyKey, map[string]any{
		"claim_tx_hash": claimTxHash,
		"status":        StatusSubmitted,
		"submitted_at":  time.Now(),
	})
}

func (l *GormLedger) MarkConfirmed(ctx context.Context, idempotencyKey string, confirmedAt time.Time) error {
	return l.updateByKey(ctx, idempotencyKey, map[string]any{
		"status":       StatusConfirmed,
		"confirmed_at": confirmedAt,
	})
}

func (l *GormLedger) MarkReverted(ctx context.Context, idempotencyKey, errorCode, errorMessage string) error {
	return l.updateByKey(ctx, idempotencyKey, map[string]any{
		"status":        StatusReverted,
		"error_code":    errorCode,
		"error_message": errorMessage,
	})
}

// Release removes a reservation whose submission never reached the node, so a
// retried request can attempt a fresh submission.
func (l *GormLedger) Release(ctx context.Context, idempotencyKey string) error {
	result := l.db.WithContext(ctx).
		Where("idempotency_key = ? AND claim_tx_hash = ''", idempotencyKey).
		Delete(&Record{})
	if result.Error != nil {
		return fmt.Errorf("failed to release claim reservation: %w", result.Error)
	}
	return nil
}

func (l *GormLedger) ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error) {
	query := l.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list claim records: %w", err)
	}
	return records, nil
}

func (l *GormLedger) updateByKey(ctx context.Context, idempotencyKey string, updates map[string]any) error {
	result := l.db.WithContext(ctx).
		Model(&Record{}).
		Where("idempotency_key = ?", idempotencyKey).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update claim record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cryptoramp/onramp-backend/internal/claim"
	"cryptoramp/onramp-backend/internal/config"
)

// ReconcileWorker finalizes claim records stranded in submitted state: a
// crash mid-confirmation-wait or an expired wait window leaves the ledger
// behind the chain until this sweep catches up.
type ReconcileWorker struct {
	ledger  claim.Ledger
	backend claim.EthBackend
	config  ReconcileWorkerConfig
	logger  *zap.Logger
}

// ReconcileWorkerConfig configuration for the reconcile worker
type ReconcileWorkerConfig struct {
	Schedule       string
	BatchSize      int
	Confirmations  uint64
	StaleThreshold time.Duration
}

// DefaultReconcileWorkerConfig returns default configuration
func DefaultReconcileWorkerConfig(confirmations uint64) ReconcileWorkerConfig {
	return ReconcileWorkerConfig{
		Schedule:       "@every 30s",
		BatchSize:      50,
		Confirmations:  confirmations,
		StaleThreshold: 10 * time.Minute,
	}
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(ledger claim.Ledger, backend claim.EthBackend, cfg ReconcileWorkerConfig, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		ledger:  ledger,
		backend: backend,
		config:  cfg,
		logger:  logger,
	}
}

// Sweep re-checks submitted claims against the chain and finalizes them
func (w *ReconcileWorker) Sweep(ctx context.Context) {
	records, err := w.ledger.ListByStatus(ctx, claim.StatusSubmitted, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list submitted claims", zap.Error(err))
		return
	}

	for _, record := range records {
		w.reconcile(ctx, &record)
	}
}

func (w *ReconcileWorker) reconcile(ctx context.Context, record *claim.Record) {
	logger := w.logger.With(
		zap.String("idempotency_key", record.IdempotencyKey),
		zap.String("claim_tx_hash", record.ClaimTxHash))

	if record.ClaimTxHash == "" {
		// A broadcast whose hash was never recorded cannot be finalized
		// automatically; only age tells it apart from one still in flight.
		if time.Since(record.SubmittedAt) > w.config.StaleThreshold {
			logger.Warn("stale claim reservation without transaction hash, operator review required")
		}
		return
	}

	receipt, err := w.backend.TransactionReceipt(ctx, common.HexToHash(record.ClaimTxHash))
	if errors.Is(err, ethereum.NotFound) {
		logger.Debug("claim still unmined")
		return
	}
	if err != nil {
		logger.Warn("receipt query failed", zap.Error(err))
		return
	}

	head, err := w.backend.BlockNumber(ctx)
	if err != nil || head+1 < receipt.BlockNumber.Uint64()+w.config.Confirmations {
		return
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		if err := w.ledger.MarkConfirmed(ctx, record.IdempotencyKey, time.Now()); err != nil {
			logger.Error("failed to mark claim confirmed", zap.Error(err))
			return
		}
		logger.Info("reconciled claim to confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return
	}

	if err := w.ledger.MarkReverted(ctx, record.IdempotencyKey, "CLAIM_REVERTED", "claim transaction reverted on-chain"); err != nil {
		logger.Error("failed to mark claim reverted", zap.Error(err))
		return
	}
	logger.Warn("reconciled claim to reverted", zap.Uint64("block", receipt.BlockNumber.Uint64()))
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	ledger, err := claim.NewGormLedger(db)
	if err != nil {
		logger.Fatal("Failed to initialize claim ledger", zap.Error(err))
	}

	backend, err := claim.DialBackend(cfg.Ethereum)
	if err != nil {
		logger.Fatal("Failed to connect to ethereum rpc", zap.Error(err))
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewReconcileWorker(ledger, backend, DefaultReconcileWorkerConfig(cfg.Ethereum.Confirmations), logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(worker.config.Schedule, func() { worker.Sweep(ctx) }); err != nil {
		logger.Fatal("Failed to schedule reconcile sweep", zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Reconcile worker running", zap.String("schedule", worker.config.Schedule))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down reconcile worker")
	cancel()
	<-scheduler.Stop().Done()
}

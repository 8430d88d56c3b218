package main

import (
	"context"
	"log"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cryptoramp/onramp-backend/internal/claim"
	"cryptoramp/onramp-backend/internal/config"
	"cryptoramp/onramp-backend/internal/fulfillment"
	"cryptoramp/onramp-backend/internal/notifications"
	"cryptoramp/onramp-backend/internal/onramp"
	"cryptoramp/onramp-backend/internal/settlement"
)

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

	ethBackend, err := claim.DialBackend(cfg.Ethereum)
	if err != nil {
		logger.Fatal("Failed to connect to ethereum rpc", zap.Error(err))
	}
	defer ethBackend.Close()

	dropClient, err := claim.NewDropClient(ethBackend, cfg.Ethereum, logger)
	if err != nil {
		logger.Fatal("Failed to initialize drop client", zap.Error(err))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Email.Region))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}
	dispatcher, err := notifications.NewDispatcher(sesv2.NewFromConfig(awsCfg), cfg.Email, logger)
	if err != nil {
		logger.Fatal("Failed to initialize notification dispatcher", zap.Error(err))
	}

	r := gin.Default()

	// ---------------- ONRAMP ----------------
	gateway := onramp.NewGateway(
		stripe.GetBackend(stripe.APIBackend),
		cfg.Stripe.SecretKey,
		cfg.Onramp.SupportedNetworks,
		cfg.Onramp.DestinationCurrencies,
		logger,
	)
	onramp.RegisterRoutes(r, onramp.NewHandler(gateway, logger))

	// ---------------- FULFILLMENT ----------------
	verifier := settlement.NewVerifier(ethBackend, "eth", logger)
	executor := claim.NewExecutor(ledger, dropClient, dropClient.Currency(), cfg.Ethereum.PricePerTokenWei, logger)
	service := fulfillment.NewService(verifier, executor, dispatcher, ledger, cfg.Ethereum.MaxClaimQuantity, logger)
	fulfillment.RegisterRoutes(r, fulfillment.NewHandler(service, logger))

	// ---------------- PING ----------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "API alive!"})
	})

	logger.Info("Server running", zap.String("addr", cfg.Server.GetServerAddr()))
	if err := r.Run(cfg.Server.GetServerAddr()); err != nil {
		logger.Fatal("Server exited", zap.Error(err))
	}
}

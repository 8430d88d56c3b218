package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Stripe   StripeConfig   `json:"stripe"`
	Ethereum EthereumConfig `json:"ethereum"`
	Email    EmailConfig    `json:"email"`
	Onramp   OnrampConfig   `json:"onramp"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"db_name"`
	SSLMode      string        `json:"ssl_mode"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
}

// StripeConfig holds the payment processor credentials
type StripeConfig struct {
	SecretKey string `json:"secret_key"`
}

// EthereumConfig holds chain access and claim submission settings. The drop
// contract, operator key and payment currency are deployment inputs, never
// derived from requests.
type EthereumConfig struct {
	RPCURL              string        `json:"rpc_url"`
	ChainID             int64         `json:"chain_id"`
	DropContractAddress string        `json:"drop_contract_address"`
	OperatorPrivateKey  string        `json:"operator_private_key"`
	ClaimCurrency       string        `json:"claim_currency"`
	PricePerTokenWei    string        `json:"price_per_token_wei"`
	MaxClaimQuantity    int64         `json:"max_claim_quantity"`
	Confirmations       uint64        `json:"confirmations"`
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
}

// EmailConfig holds SES delivery settings
type EmailConfig struct {
	Region      string `json:"region"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	ExplorerURL string `json:"explorer_url"`
}

// OnrampConfig holds the on-ramp session allow-lists
type OnrampConfig struct {
	SupportedNetworks     []string `json:"supported_networks"`
	DestinationCurrencies []string `json:"destination_currencies"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "onramp_fulfillment",
			SSLMode: "disable",
		},
		Ethereum: EthereumConfig{
			ChainID:             1,
			MaxClaimQuantity:    1,
			Confirmations:       2,
			ConfirmationTimeout: 3 * time.Minute,
		},
		Onramp: OnrampConfig{
			SupportedNetworks:     []string{"ethereum", "avalanche"},
			DestinationCurrencies: []string{"eth", "usdc"},
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		config.Stripe.SecretKey = key
	}
	if rpc := os.Getenv("ETHEREUM_RPC_URL"); rpc != "" {
		config.Ethereum.RPCURL = rpc
	}
	if chainID := os.Getenv("ETHEREUM_CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Ethereum.ChainID = id
		}
	}
	if contract := os.Getenv("DROP_CONTRACT_ADDRESS"); contract != "" {
		config.Ethereum.DropContractAddress = contract
	}
	if pk := os.Getenv("OPERATOR_PRIVATE_KEY"); pk != "" {
		config.Ethereum.OperatorPrivateKey = pk
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		config.Email.Region = region
	}
	if from := os.Getenv("EMAIL_FROM_ADDRESS"); from != "" {
		config.Email.FromAddress = from
	}
}

func (c *Config) validate() error {
	if c.Ethereum.ChainID <= 0 {
		return fmt.Errorf("ethereum chain_id must be positive, got %d", c.Ethereum.ChainID)
	}
	if c.Ethereum.Confirmations == 0 {
		c.Ethereum.Confirmations = 1
	}
	if c.Ethereum.MaxClaimQuantity <= 0 {
		c.Ethereum.MaxClaimQuantity = 1
	}
	if len(c.Onramp.SupportedNetworks) == 0 {
		return fmt.Errorf("onramp supported_networks must not be empty")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *DatabaseConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

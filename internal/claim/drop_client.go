package claim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/internal/config"
)

// dropABI covers the claim entrypoint of the asset drop contract
const dropABI = `[{"inputs":[{"internalType":"address","name":"receiver","type":"address"},{"internalType":"uint256","name":"quantity","type":"uint256"},{"internalType":"address","name":"currency","type":"address"},{"internalType":"uint256","name":"pricePerToken","type":"uint256"},{"components":[{"internalType":"bytes32[]","name":"proof","type":"bytes32[]"},{"internalType":"uint256","name":"quantityLimitPerWallet","type":"uint256"},{"internalType":"uint256","name":"pricePerToken","type":"uint256"},{"internalType":"address","name":"currency","type":"address"}],"internalType":"struct IDrop.AllowlistProof","name":"allowlistProof","type":"tuple"},{"internalType":"bytes","name":"data","type":"bytes"}],"name":"claim","outputs":[],"stateMutability":"payable","type":"function"}]`

// nativeTokenAddress is the sentinel the drop contract uses for payment in
// the chain's native coin.
var nativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// AllowlistProof mirrors the contract's allowlist tuple
type AllowlistProof struct {
	Proof                  [][32]byte
	QuantityLimitPerWallet *big.Int
	PricePerToken          *big.Int
	Currency               common.Address
}

// ErrConfirmationTimeout is returned when a submitted claim does not reach
// the required confirmation depth within the configured window. The
// transaction itself cannot be cancelled once broadcast.
var ErrConfirmationTimeout = errors.New("claim confirmation timeout")

// ErrBroadcastAmbiguous marks a submission whose outcome is unknown: the
// transport failed after the node may already have accepted the transaction
// into its mempool. Re-sending after this error could mint twice under a
// fresh nonce, so callers must keep their ledger reservation and leave
// resolution to the reconcile sweep or an operator.
var ErrBroadcastAmbiguous = errors.New("claim broadcast outcome unknown")

// notBroadcastMarkers are node responses that can only occur before a
// transaction enters the mempool. Any other SendTransaction failure is
// ambiguous.
var notBroadcastMarkers = []string{
	"insufficient funds",
	"nonce too low",
	"transaction underpriced",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"invalid sender",
	"execution reverted",
	"gas required exceeds allowance",
	"failed to estimate gas",
	"max fee per gas less than block base fee",
}

func broadcastRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range notBroadcastMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ConfirmationResult reports the on-chain outcome of a claim transaction
type ConfirmationResult struct {
	TxHash      string
	Successful  bool
	BlockNumber uint64
}

// ChainSubmitter abstracts claim submission and confirmation for the executor
type ChainSubmitter interface {
	SubmitClaim(ctx context.Context, receiver common.Address, quantity *big.Int) (txHash string, err error)
	WaitForConfirmation(ctx context.Context, txHash string) (*ConfirmationResult, error)
}

// EthBackend is the slice of ethclient the drop client needs
type EthBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// DropClient submits claim transactions on the asset drop contract and waits
// for confirmation at the configured depth.
type DropClient struct {
	backend       EthBackend
	contract      *bind.BoundContract
	baseOpts      *bind.TransactOpts
	currency      common.Address
	pricePerToken *big.Int
	confirmations uint64
	timeout       time.Duration
	pollInterval  time.Duration
	logger        *zap.Logger
}

// DialBackend connects to the configured RPC endpoint. The returned client
// also serves the settlement verifier's receipt reads.
func DialBackend(cfg config.EthereumConfig) (*ethclient.Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
	}
	return client, nil
}

// NewDropClient prepares the operator signer and binds the drop contract
func NewDropClient(backend EthBackend, cfg config.EthereumConfig, logger *zap.Logger) (*DropClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator private key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor for chain %d: %w", cfg.ChainID, err)
	}

	parsed, err := abi.JSON(strings.NewReader(dropABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse drop contract abi: %w", err)
	}

	price := new(big.Int)
	if cfg.PricePerTokenWei != "" {
		if _, ok := price.SetString(cfg.PricePerTokenWei, 10); !ok {
			return nil, fmt.Errorf("invalid price_per_token_wei %q", cfg.PricePerTokenWei)
		}
	}

	currency := nativeTokenAddress
	if cfg.ClaimCurrency != "" {
		if !common.IsHexAddress(cfg.ClaimCurrency) {
			return nil, fmt.Errorf("invalid claim currency address %q", cfg.ClaimCurrency)
		}
		currency = common.HexToAddress(cfg.ClaimCurrency)
	}

	contractAddr := common.HexToAddress(cfg.DropContractAddress)
	contract := bind.NewBoundContract(contractAddr, parsed, backend, backend, backend)

	return &DropClient{
		backend:       backend,
		contract:      contract,
		baseOpts:      opts,
		currency:      currency,
		pricePerToken: price,
		confirmations: cfg.Confirmations,
		timeout:       cfg.ConfirmationTimeout,
		pollInterval:  5 * time.Second,
		logger:        logger,
	}, nil
}

// Currency returns the configured payment currency address
func (d *DropClient) Currency() string {
	return d.currency.Hex()
}

// PricePerToken returns the configured price in wei
func (d *DropClient) PricePerToken() *big.Int {
	return new(big.Int).Set(d.pricePerToken)
}

// SubmitClaim broadcasts claim(receiver, quantity, currency, pricePerToken,
// allowlistProof, data). Broadcast is attempted exactly once: a transaction
// lost in transit may still have reached the mempool, and re-sending it
// picks up a fresh pending nonce, which would double the mint.
func (d *DropClient) SubmitClaim(ctx context.Context, receiver common.Address, quantity *big.Int) (string, error) {
	opts := *d.baseOpts
	opts.Context = ctx
	if d.currency == nativeTokenAddress && d.pricePerToken.Sign() > 0 {
		opts.Value = new(big.Int).Mul(d.pricePerToken, quantity)
	}

	proof := AllowlistProof{
		Proof:                  [][32]byte{},
		QuantityLimitPerWallet: big.NewInt(0),
		PricePerToken:          d.pricePerToken,
		Currency:               d.currency,
	}

	tx, err := d.contract.Transact(&opts, "claim",
		receiver, quantity, d.currency, d.pricePerToken, proof, []byte{})
	if err != nil {
		if broadcastRejected(err) {
			return "", fmt.Errorf("claim transaction rejected by node: %w", err)
		}
		return "", fmt.Errorf("%w: %v", ErrBroadcastAmbiguous, err)
	}

	d.logger.Info("claim transaction submitted",
		zap.String("claim_tx_hash", tx.Hash().Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("quantity", quantity.String()))

	return tx.Hash().Hex(), nil
}

// WaitForConfirmation polls for the claim receipt until it is buried under
// the configured number of confirmations or the window elapses.
func (d *DropClient) WaitForConfirmation(ctx context.Context, txHash string) (*ConfirmationResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := d.backend.TransactionReceipt(waitCtx, hash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			d.logger.Warn("receipt query failed during confirmation wait",
				zap.String("claim_tx_hash", txHash), zap.Error(err))
		}

		if receipt != nil {
			head, headErr := d.backend.BlockNumber(waitCtx)
			if headErr == nil && head+1 >= receipt.BlockNumber.Uint64()+d.confirmations {
				return &ConfirmationResult{
					TxHash:      txHash,
					Successful:  receipt.Status == types.ReceiptStatusSuccessful,
					BlockNumber: receipt.BlockNumber.Uint64(),
				}, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

package claim

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/internal/config"
)

// fakeEthBackend simulates the node surface the drop client talks to: one
// pending transaction slot, a scripted chain head, and a single receipt.
type fakeEthBackend struct {
	mu       sync.Mutex
	sendErr  error
	attempts int
	sent     []*types.Transaction
	receipt  *types.Receipt
	heads    []uint64
	head     uint64
}

func (f *fakeEthBackend) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeEthBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeEthBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(int64(f.head)), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeEthBackend) PendingCodeAt(_ context.Context, _ common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeEthBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeEthBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 200000, nil
}

func (f *fakeEthBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEthBackend) FilterLogs(_ context.Context, _ ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeEthBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, _ chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (f *fakeEthBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeEthBackend) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heads) > 0 {
		h := f.heads[0]
		f.heads = f.heads[1:]
		return h, nil
	}
	return f.head, nil
}

const testDropContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func testDropConfig() config.EthereumConfig {
	return config.EthereumConfig{
		ChainID:             1337,
		DropContractAddress: testDropContract,
		OperatorPrivateKey:  "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
		PricePerTokenWei:    "1000",
		Confirmations:       2,
		ConfirmationTimeout: time.Second,
	}
}

func newTestDropClient(t *testing.T, backend EthBackend, cfg config.EthereumConfig) *DropClient {
	t.Helper()
	client, err := NewDropClient(backend, cfg, zap.NewNop())
	require.NoError(t, err)
	client.pollInterval = time.Millisecond
	return client
}

func TestNewDropClient_RejectsBadConfig(t *testing.T) {
	backend := &fakeEthBackend{}

	cfg := testDropConfig()
	cfg.OperatorPrivateKey = "not-a-key"
	_, err := NewDropClient(backend, cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testDropConfig()
	cfg.PricePerTokenWei = "one thousand"
	_, err = NewDropClient(backend, cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testDropConfig()
	cfg.ClaimCurrency = "not-an-address"
	_, err = NewDropClient(backend, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestSubmitClaim_NativeCurrencyCarriesValue(t *testing.T) {
	backend := &fakeEthBackend{}
	client := newTestDropClient(t, backend, testDropConfig())

	txHash, err := client.SubmitClaim(context.Background(), common.HexToAddress(testReceiver), big.NewInt(3))

	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), txHash)
	assert.Equal(t, common.HexToAddress(testDropContract), *tx.To())
	// price 1000 wei per token, quantity 3
	assert.Zero(t, tx.Value().Cmp(big.NewInt(3000)))
}

func TestSubmitClaim_TokenCurrencyCarriesNoValue(t *testing.T) {
	backend := &fakeEthBackend{}
	cfg := testDropConfig()
	cfg.ClaimCurrency = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	client := newTestDropClient(t, backend, cfg)

	_, err := client.SubmitClaim(context.Background(), common.HexToAddress(testReceiver), big.NewInt(3))

	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Zero(t, backend.sent[0].Value().Sign())
}

func TestSubmitClaim_NodeRejectionIsNotAmbiguous(t *testing.T) {
	backend := &fakeEthBackend{sendErr: errors.New("insufficient funds for gas * price + value")}
	client := newTestDropClient(t, backend, testDropConfig())

	_, err := client.SubmitClaim(context.Background(), common.HexToAddress(testReceiver), big.NewInt(1))

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBroadcastAmbiguous))
	assert.Equal(t, 1, backend.attempts)
}

func TestSubmitClaim_TransportFailureIsAmbiguousAndNotResent(t *testing.T) {
	backend := &fakeEthBackend{sendErr: errors.New("read tcp 127.0.0.1:8545: i/o timeout")}
	client := newTestDropClient(t, backend, testDropConfig())

	_, err := client.SubmitClaim(context.Background(), common.HexToAddress(testReceiver), big.NewInt(1))

	// The node may have accepted the transaction before the response was
	// lost; a second send would broadcast a second claim under a new nonce.
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBroadcastAmbiguous))
	assert.Equal(t, 1, backend.attempts)
}

func TestWaitForConfirmation_WaitsForDepth(t *testing.T) {
	backend := &fakeEthBackend{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
		heads:   []uint64{100},
		head:    101,
	}
	client := newTestDropClient(t, backend, testDropConfig())

	// confirmations = 2: head 100 leaves the claim one block short, head 101
	// buries it.
	result, err := client.WaitForConfirmation(context.Background(), testClaimHash)

	require.NoError(t, err)
	assert.True(t, result.Successful)
	assert.Equal(t, uint64(100), result.BlockNumber)
	assert.Equal(t, testClaimHash, result.TxHash)
}

func TestWaitForConfirmation_RevertedTransaction(t *testing.T) {
	backend := &fakeEthBackend{
		receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)},
		head:    200,
	}
	client := newTestDropClient(t, backend, testDropConfig())

	result, err := client.WaitForConfirmation(context.Background(), testClaimHash)

	require.NoError(t, err)
	assert.False(t, result.Successful)
}

func TestWaitForConfirmation_TimesOutWithoutReceipt(t *testing.T) {
	backend := &fakeEthBackend{}
	cfg := testDropConfig()
	cfg.ConfirmationTimeout = 20 * time.Millisecond
	client := newTestDropClient(t, backend, cfg)

	_, err := client.WaitForConfirmation(context.Background(), testClaimHash)

	require.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestWaitForConfirmation_ParentCancellationIsNotTimeout(t *testing.T) {
	backend := &fakeEthBackend{}
	client := newTestDropClient(t, backend, testDropConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.WaitForConfirmation(ctx, testClaimHash)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout)
}

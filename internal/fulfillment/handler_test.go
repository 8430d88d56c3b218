package fulfillment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/internal/claim"
	"cryptoramp/onramp-backend/internal/notifications"
	"cryptoramp/onramp-backend/internal/settlement"
	"cryptoramp/onramp-backend/pkg/apperr"
)

func newTestRouter(service *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, NewHandler(service, zap.NewNop()))
	return r
}

func fulfillBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"tx_hash":                 testTxHash,
		"customer_wallet_address": testWallet,
		"customer_email":          testEmail,
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestFulfillEndpoint_Success(t *testing.T) {
	verifier := new(MockVerifier)
	executor := new(MockExecutor)
	dispatcher := new(MockDispatcher)

	verifier.On("VerifySettlement", mock.Anything, testTxHash).
		Return(&settlement.Record{TxHash: testTxHash, Status: settlement.StatusConfirmed}, nil)
	executor.On("ExecuteClaim", mock.Anything, mock.Anything).Return(confirmedClaim(), nil)
	dispatcher.On("SendConfirmation", mock.Anything, testEmail, mock.Anything).
		Return(&notifications.Result{Status: notifications.StatusSent}, nil)

	router := newTestRouter(newTestService(verifier, executor, dispatcher))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/fulfill", fulfillBody(t))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testClaimHash, resp["transaction_hash"])
	assert.Equal(t, "sent", resp["notification_status"])
}

func TestFulfillEndpoint_RejectsMalformedBody(t *testing.T) {
	router := newTestRouter(newTestService(new(MockVerifier), new(MockExecutor), new(MockDispatcher)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/fulfill", bytes.NewBufferString(`{"tx_hash": ""}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFulfillEndpoint_SettlementNotReadyIsConflict(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("VerifySettlement", mock.Anything, testTxHash).
		Return(&settlement.Record{TxHash: testTxHash, Status: settlement.StatusPending}, nil)

	router := newTestRouter(newTestService(verifier, new(MockExecutor), new(MockDispatcher)))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/fulfill", fulfillBody(t))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFulfillEndpoint_PendingConfirmationIsAccepted(t *testing.T) {
	verifier := new(MockVerifier)
	executor := new(MockExecutor)

	verifier.On("VerifySettlement", mock.Anything, testTxHash).
		Return(&settlement.Record{TxHash: testTxHash, Status: settlement.StatusConfirmed}, nil)
	submitted := confirmedClaim()
	submitted.Status = claim.StatusSubmitted
	executor.On("ExecuteClaim", mock.Anything, mock.Anything).
		Return(submitted, apperr.PendingConfirmation(testClaimHash))

	router := newTestRouter(newTestService(verifier, executor, new(MockDispatcher)))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/fulfill", fulfillBody(t))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestStatusEndpoint_ReturnsLedgerRecord(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetByKey", mock.Anything, claim.DeriveIdempotencyKey(testTxHash, testWallet)).
		Return(confirmedClaim(), nil)
	service := NewService(new(MockVerifier), new(MockExecutor), new(MockDispatcher), ledger, 1, zap.NewNop())

	router := newTestRouter(service)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/fulfillments/%s/%s", testTxHash, testWallet), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testClaimHash, resp.ClaimTxHash)
	assert.Equal(t, "confirmed", resp.Status)
}

func TestStatusEndpoint_UnknownFulfillmentIs404(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetByKey", mock.Anything, mock.Anything).Return(nil, claim.ErrNotFound)
	service := NewService(new(MockVerifier), new(MockExecutor), new(MockDispatcher), ledger, 1, zap.NewNop())

	router := newTestRouter(service)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/fulfillments/%s/%s", testTxHash, testWallet), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

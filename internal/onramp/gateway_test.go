package onramp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/form"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/pkg/apperr"
)

// fakeBackend captures the raw call the gateway makes to the processor
type fakeBackend struct {
	method string
	path   string
	key    string
	body   *form.Values
	err    error

	clientSecret string
	sessionID    string
}

func (f *fakeBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	f.method = method
	f.path = path
	f.key = key
	f.body = body
	if f.err != nil {
		return f.err
	}
	session := v.(*onrampSession)
	session.ClientSecret = f.clientSecret
	session.ID = f.sessionID
	return nil
}

func testIntent() *PurchaseIntent {
	return &PurchaseIntent{
		DestinationCurrency:       "eth",
		DestinationExchangeAmount: "0.05",
		DestinationNetwork:        "ethereum",
		WalletAddress:             "0xdEF0000000000000000000000000000000000def",
		BuyerEmail:                "buyer@example.com",
		BuyerFirstName:            "Ada",
		BuyerLastName:             "Lovelace",
		BuyerDOB:                  DateOfBirth{Day: 10, Month: 12, Year: 1990},
	}
}

func newTestGateway(backend stripeBackend) *Gateway {
	return NewGateway(backend, "sk_test_123",
		[]string{"ethereum", "avalanche"}, []string{"eth", "usdc"}, zap.NewNop())
}

func TestCreateSession_MapsIntentToProcessorPayload(t *testing.T) {
	backend := &fakeBackend{clientSecret: "cos_secret_abc", sessionID: "cos_123"}
	gateway := newTestGateway(backend)

	session, err := gateway.CreateSession(context.Background(), testIntent())

	require.NoError(t, err)
	assert.Equal(t, "cos_secret_abc", session.ClientSecret)
	assert.Equal(t, "cos_123", session.SessionID)

	assert.Equal(t, "POST", backend.method)
	assert.Equal(t, "/v1/crypto/onramp_sessions", backend.path)
	assert.Equal(t, "sk_test_123", backend.key)

	encoded := backend.body.Encode()
	assert.Contains(t, encoded, "transaction_details%5Bdestination_currency%5D=eth")
	assert.Contains(t, encoded, "transaction_details%5Bdestination_exchange_amount%5D=0.05")
	assert.Contains(t, encoded, "transaction_details%5Bdestination_network%5D=ethereum")
	assert.Contains(t, encoded, "transaction_details%5Bwallet_addresses%5D%5Bethereum%5D=0xdEF0000000000000000000000000000000000def")
	assert.Contains(t, encoded, "customer_information%5Bemail%5D=buyer%40example.com")
	assert.Contains(t, encoded, "customer_information%5Bdob%5D%5Byear%5D=1990")
	assert.Contains(t, encoded, "destination_currencies%5B0%5D=eth")
	assert.Contains(t, encoded, "destination_networks%5B1%5D=avalanche")
}

func TestCreateSession_RejectsUnsupportedNetwork(t *testing.T) {
	backend := &fakeBackend{clientSecret: "cos_secret_abc"}
	gateway := newTestGateway(backend)

	intent := testIntent()
	intent.DestinationNetwork = "dogechain"
	_, err := gateway.CreateSession(context.Background(), intent)

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Empty(t, backend.path, "processor must not be called for invalid intents")
}

func TestCreateSession_RejectsBadAmount(t *testing.T) {
	gateway := newTestGateway(&fakeBackend{})

	for _, amount := range []string{"", "abc", "-1", "0"} {
		intent := testIntent()
		intent.DestinationExchangeAmount = amount
		_, err := gateway.CreateSession(context.Background(), intent)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "amount %q should be rejected", amount)
	}
}

func TestCreateSession_SurfacesProcessorRejection(t *testing.T) {
	backend := &fakeBackend{err: &stripe.Error{
		Type: stripe.ErrorTypeInvalidRequest,
		Code: stripe.ErrorCode("parameter_invalid_empty"),
		Msg:  "customer_information[first_name] may not be empty",
	}}
	gateway := newTestGateway(backend)

	_, err := gateway.CreateSession(context.Background(), testIntent())

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUpstreamRejected, appErr.Code)
	assert.Equal(t, "parameter_invalid_empty", appErr.Upstream["code"])
	assert.Equal(t, "customer_information[first_name] may not be empty", appErr.Upstream["message"])
}

func TestCreateSession_NetworkFailureIsTransient(t *testing.T) {
	gateway := newTestGateway(&fakeBackend{err: assert.AnError})

	_, err := gateway.CreateSession(context.Background(), testIntent())

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeTransient))
}

func TestCreateSession_EmptyClientSecretIsTransient(t *testing.T) {
	gateway := newTestGateway(&fakeBackend{clientSecret: ""})

	_, err := gateway.CreateSession(context.Background(), testIntent())

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeTransient))
}

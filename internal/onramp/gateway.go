package onramp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/form"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/pkg/apperr"
)

const onrampSessionsPath = "/v1/crypto/onramp_sessions"

// stripeBackend is the slice of the Stripe client the gateway needs. The
// typed SDK has no onramp resource, so sessions are created through the raw
// call surface, same as extending StripeResource in other SDKs.
type stripeBackend interface {
	CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error
}

// Gateway creates on-ramp payment sessions against the payment processor.
// Pure request/response; it holds no local state.
type Gateway struct {
	backend               stripeBackend
	apiKey                string
	supportedNetworks     []string
	destinationCurrencies []string
	logger                *zap.Logger
}

// NewGateway creates a new payment session gateway
func NewGateway(backend stripeBackend, apiKey string, supportedNetworks, destinationCurrencies []string, logger *zap.Logger) *Gateway {
	return &Gateway{
		backend:               backend,
		apiKey:                apiKey,
		supportedNetworks:     supportedNetworks,
		destinationCurrencies: destinationCurrencies,
		logger:                logger,
	}
}

// onrampSession mirrors the processor's session object
type onrampSession struct {
	stripe.APIResource
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateSession validates the intent and creates an on-ramp session with the
// processor. Processor declines surface with the upstream payload attached.
func (g *Gateway) CreateSession(ctx context.Context, intent *PurchaseIntent) (*PaymentSession, error) {
	if err := g.validateIntent(intent); err != nil {
		return nil, err
	}

	body := g.buildSessionForm(intent)
	params := &stripe.Params{Context: ctx}

	session := &onrampSession{}
	if err := g.backend.CallRaw(http.MethodPost, onrampSessionsPath, g.apiKey, body, params, session); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			g.logger.Warn("onramp session rejected by processor",
				zap.String("network", intent.DestinationNetwork),
				zap.String("stripe_code", string(stripeErr.Code)),
				zap.Error(err))
			return nil, apperr.UpstreamRejected(err, map[string]any{
				"type":    string(stripeErr.Type),
				"code":    string(stripeErr.Code),
				"message": stripeErr.Msg,
			}, "payment processor rejected session creation")
		}
		return nil, apperr.Transient(err, "payment processor unreachable")
	}

	if session.ClientSecret == "" {
		return nil, apperr.Transient(nil, "processor returned session without client secret")
	}

	g.logger.Info("onramp session created",
		zap.String("session_id", session.ID),
		zap.String("network", intent.DestinationNetwork),
		zap.String("destination_currency", intent.DestinationCurrency))

	return &PaymentSession{
		ClientSecret: session.ClientSecret,
		SessionID:    session.ID,
	}, nil
}

func (g *Gateway) validateIntent(intent *PurchaseIntent) error {
	if !contains(g.supportedNetworks, intent.DestinationNetwork) {
		return apperr.Validation("destination network %q is not supported, supported networks: %v",
			intent.DestinationNetwork, g.supportedNetworks)
	}

	amount, err := decimal.NewFromString(intent.DestinationExchangeAmount)
	if err != nil {
		return apperr.Validation("destination exchange amount %q is not a valid decimal", intent.DestinationExchangeAmount)
	}
	if amount.IsNegative() || amount.IsZero() {
		return apperr.Validation("destination exchange amount must be positive, got %s", amount.String())
	}

	if intent.WalletAddress == "" {
		return apperr.Validation("wallet address is required")
	}
	return nil
}

// buildSessionForm maps the intent into the processor's session-creation
// payload. The wallet address is keyed by the destination network.
func (g *Gateway) buildSessionForm(intent *PurchaseIntent) *form.Values {
	body := &form.Values{}
	body.Add("transaction_details[destination_currency]", intent.DestinationCurrency)
	body.Add("transaction_details[destination_exchange_amount]", intent.DestinationExchangeAmount)
	body.Add("transaction_details[destination_network]", intent.DestinationNetwork)
	body.Add(fmt.Sprintf("transaction_details[wallet_addresses][%s]", intent.DestinationNetwork), intent.WalletAddress)

	body.Add("customer_information[email]", intent.BuyerEmail)
	body.Add("customer_information[first_name]", intent.BuyerFirstName)
	body.Add("customer_information[last_name]", intent.BuyerLastName)
	body.Add("customer_information[dob][day]", strconv.Itoa(intent.BuyerDOB.Day))
	body.Add("customer_information[dob][month]", strconv.Itoa(intent.BuyerDOB.Month))
	body.Add("customer_information[dob][year]", strconv.Itoa(intent.BuyerDOB.Year))

	for i, currency := range g.destinationCurrencies {
		body.Add(fmt.Sprintf("destination_currencies[%d]", i), currency)
	}
	for i, network := range g.supportedNetworks {
		body.Add(fmt.Sprintf("destination_networks[%d]", i), network)
	}
	return body
}

func contains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

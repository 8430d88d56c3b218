package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/internal/claim"
	"cryptoramp/onramp-backend/internal/config"
)

// Status of a confirmation delivery attempt
type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result reports the outcome of one confirmation send
type Result struct {
	Status    Status `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// sesAPI is the slice of the SES client the dispatcher needs
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Dispatcher sends purchase confirmation emails. Delivery is best-effort: a
// failure here never rolls back or blocks a confirmed on-chain claim.
type Dispatcher struct {
	client      sesAPI
	fromAddress string
	fromName    string
	explorerURL string
	htmlTmpl    *template.Template
	logger      *zap.Logger
}

const confirmationSubject = "Your purchase is on-chain"

const confirmationHTML = `<html>
<body>
  <p>Hi,</p>
  <p>Your purchase has been delivered to <strong>{{.ReceiverWallet}}</strong>.</p>
  <p>Quantity: {{.Quantity}}</p>
  <p>Transaction: <a href="{{.ExplorerURL}}/tx/{{.ClaimTxHash}}">{{.ClaimTxHash}}</a></p>
  <p>Thank you for your purchase.</p>
</body>
</html>`

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(client sesAPI, cfg config.EmailConfig, logger *zap.Logger) (*Dispatcher, error) {
	htmlTmpl, err := template.New("confirmation").Parse(confirmationHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse confirmation template: %w", err)
	}
	return &Dispatcher{
		client:      client,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		explorerURL: strings.TrimSuffix(cfg.ExplorerURL, "/"),
		htmlTmpl:    htmlTmpl,
		logger:      logger,
	}, nil
}

// SendConfirmation emails the buyer about a confirmed claim. Only confirmed
// claims are announced; anything else is skipped.
func (d *Dispatcher) SendConfirmation(ctx context.Context, buyerEmail string, record *claim.Record) (*Result, error) {
	logger := d.logger.With(
		zap.String("idempotency_key", record.IdempotencyKey),
		zap.String("claim_tx_hash", record.ClaimTxHash))

	if record.Status != claim.StatusConfirmed {
		logger.Warn("confirmation requested for unconfirmed claim, skipping",
			zap.String("claim_status", string(record.Status)))
		return &Result{Status: StatusSkipped}, nil
	}

	html, err := d.renderHTML(record)
	if err != nil {
		logger.Error("failed to render confirmation email", zap.Error(err))
		return &Result{Status: StatusFailed, Error: err.Error()}, err
	}

	text := fmt.Sprintf("Your purchase has been delivered to %s.\nQuantity: %d\nTransaction: %s/tx/%s\n",
		record.ReceiverWallet, record.Quantity, d.explorerURL, record.ClaimTxHash)

	out, err := d.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(d.fromHeader()),
		Destination: &sestypes.Destination{
			ToAddresses: []string{buyerEmail},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(confirmationSubject)},
				Body: &sestypes.Body{
					Html: &sestypes.Content{Data: aws.String(html)},
					Text: &sestypes.Content{Data: aws.String(text)},
				},
			},
		},
	})
	if err != nil {
		logger.Warn("confirmation email send failed", zap.Error(err))
		return &Result{Status: StatusFailed, Error: err.Error()}, err
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	logger.Info("confirmation email sent", zap.String("message_id", messageID))
	return &Result{Status: StatusSent, MessageID: messageID}, nil
}

func (d *Dispatcher) renderHTML(record *claim.Record) (string, error) {
	var buf bytes.Buffer
	err := d.htmlTmpl.Execute(&buf, map[string]any{
		"ReceiverWallet": record.ReceiverWallet,
		"Quantity":       record.Quantity,
		"ClaimTxHash":    record.ClaimTxHash,
		"ExplorerURL":    d.explorerURL,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d *Dispatcher) fromHeader() string {
	if d.fromName != "" {
		return fmt.Sprintf("%s <%s>", d.fromName, d.fromAddress)
	}
	return d.fromAddress
}

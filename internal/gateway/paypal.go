package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/paypal"
)

// PayPalGateway implements Gateway on the PayPal REST API.
type PayPalGateway struct {
	client *paypal.Client
}

func NewPayPalGateway(client *paypal.Client) (*PayPalGateway, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal client required")
	}
	return &PayPalGateway{client: client}, nil
}

func (g *PayPalGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

// Charge creates a CAPTURE-intent order. The caller must redirect the user
// to the approval URL; the capture webhook completes the payment.
func (g *PayPalGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	var customID string
	if len(params.Metadata) > 0 {
		if encoded, err := json.Marshal(params.Metadata); err == nil {
			customID = string(encoded)
			if len(customID) > 64 {
				customID = customID[:64]
			}
		}
	}

	order, err := g.client.CreateOrder(ctx, paypal.CreateOrderParams{
		Amount: paypal.Amount{
			CurrencyCode: params.Currency,
			Value:        params.Amount.StringFixed(2),
		},
		Description: params.Description,
		CustomID:    customID,
		ReturnURL:   params.ReturnURL,
		CancelURL:   params.CancelURL,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating paypal order")
	}

	return &ChargeResult{
		ReferenceNumber: order.ID,
		Status:          enums.PaymentStatusPending,
		ApprovalURL:     order.ApprovalURL(),
		ProviderMessage: order.Status,
	}, nil
}

// Refund refunds against the capture id recorded as the payment reference.
func (g *PayPalGateway) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	var amount *paypal.Amount
	if !params.Amount.IsZero() {
		amount = &paypal.Amount{
			CurrencyCode: params.Currency,
			Value:        params.Amount.StringFixed(2),
		}
	}

	created, err := g.client.RefundCapture(ctx, params.ReferenceNumber, amount, params.Reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating paypal refund")
	}

	return &RefundResult{
		ProviderRefundID: created.ID,
		Status:           created.Status,
	}, nil
}

// ParseWebhook verifies the transmission signature against PayPal and
// normalizes the event. The payload kept on the event is the full event
// body; handlers read the nested resource.
func (g *PayPalGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*webhooks.Event, error) {
	if err := g.client.VerifyWebhookSignature(ctx, payload, paypal.FromHTTPHeader(header)); err != nil {
		switch err {
		case paypal.ErrWebhookHeadersIncomplete, paypal.ErrWebhookSignatureInvalid:
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verifying paypal webhook signature")
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verifying paypal webhook signature")
		}
	}

	var body struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding paypal webhook payload")
	}
	if body.ID == "" || body.EventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal webhook missing id or event_type")
	}

	return &webhooks.Event{
		Provider:   enums.PaymentProviderPayPal,
		EventID:    body.ID,
		EventType:  body.EventType,
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Now().UTC(),
	}, nil
}

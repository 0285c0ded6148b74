package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	pkgstripe "github.com/subhubhq/subhub-backend/pkg/stripe"
)

// StripeGateway implements Gateway on the Stripe API.
type StripeGateway struct {
	client *pkgstripe.Client
}

func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &StripeGateway{client: client}, nil
}

func (g *StripeGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

// Charge creates a PaymentIntent. Stripe amounts are integer cents.
func (g *StripeGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	piParams := &stripe.PaymentIntentParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(params.Amount.Shift(2).IntPart()),
		Currency:    stripe.String(params.Currency),
		Description: stripe.String(params.Description),
	}
	for key, value := range params.Metadata {
		piParams.AddMetadata(key, value)
	}
	piParams.AddMetadata("user_id", params.UserID.String())

	intent, err := paymentintent.New(piParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating stripe payment intent")
	}

	return &ChargeResult{
		ReferenceNumber: intent.ID,
		Status:          enums.PaymentStatusPending,
		ProviderMessage: string(intent.Status),
	}, nil
}

// Refund refunds against the original PaymentIntent.
func (g *StripeGateway) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	refundParams := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(params.ReferenceNumber),
	}
	if !params.Amount.IsZero() {
		refundParams.Amount = stripe.Int64(params.Amount.Shift(2).IntPart())
	}
	if params.Reason != "" {
		refundParams.AddMetadata("reason", params.Reason)
	}

	created, err := refund.New(refundParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating stripe refund")
	}

	return &RefundResult{
		ProviderRefundID: created.ID,
		Status:           string(created.Status),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the
// event. The payload kept on the event is data.object, which is what every
// handler dispatches on.
func (g *StripeGateway) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*webhooks.Event, error) {
	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing stripe signature header")
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, g.client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verifying stripe webhook signature")
	}

	normalized := &webhooks.Event{
		Provider:   enums.PaymentProviderStripe,
		EventID:    event.ID,
		EventType:  string(event.Type),
		ReceivedAt: time.Now().UTC(),
	}
	if event.Data != nil {
		normalized.Payload = event.Data.Raw
	}
	return normalized, nil
}

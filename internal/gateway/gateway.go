package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
)

// ChargeParams describe a one-time charge or initial subscription payment.
type ChargeParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
	ReturnURL   string
	CancelURL   string
}

// ChargeResult is the provider's answer to a charge request. Charges start
// pending; webhooks drive them to a terminal status.
type ChargeResult struct {
	ReferenceNumber string
	Status          enums.PaymentStatus
	ApprovalURL     string
	ProviderMessage string
}

// RefundParams describe a full or partial refund of a completed payment.
type RefundParams struct {
	ReferenceNumber string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
}

// RefundResult carries the provider-side refund identifiers.
type RefundResult struct {
	ProviderRefundID string
	Status           string
}

// Gateway abstracts a payment provider. Implementations own wire formats
// and signature verification; callers only see normalized types.
type Gateway interface {
	Provider() enums.PaymentProvider
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*webhooks.Event, error)
}

// Registry resolves gateways by provider name.
type Registry struct {
	gateways map[enums.PaymentProvider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	reg := &Registry{gateways: make(map[enums.PaymentProvider]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		reg.gateways[gw.Provider()] = gw
	}
	return reg
}

// Get returns the gateway for the provider or a validation error.
func (r *Registry) Get(provider enums.PaymentProvider) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment provider %q", provider)
	}
	return gw, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []enums.PaymentProvider {
	providers := make([]enums.PaymentProvider, 0, len(r.gateways))
	for provider := range r.gateways {
		providers = append(providers, provider)
	}
	return providers
}

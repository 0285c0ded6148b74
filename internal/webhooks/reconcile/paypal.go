package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
)

// paypalEvent is the slice of the webhook body the engine reads. The
// resource id is the capture id for payment events and the billing
// agreement id for subscription events.
type paypalEvent struct {
	Resource struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

func (s *Service) applyPayPal(ctx context.Context, repo Repository, event *webhooks.Event) (webhooks.Result, error) {
	var body paypalEvent
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding paypal event")
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.SALE.COMPLETED":
		return s.paypalCaptureCompleted(ctx, repo, body.Resource.ID)
	case "PAYMENT.CAPTURE.DENIED":
		return s.paypalCaptureDenied(ctx, repo, body.Resource.ID)
	case "BILLING.SUBSCRIPTION.CREATED":
		s.log.Info(ctx, "paypal subscription created acknowledged")
		return webhooks.Processed(fmt.Sprintf("subscription %s acknowledged", body.Resource.ID)), nil
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		return s.paypalSubscriptionActivated(ctx, repo, body.Resource.ID)
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return s.paypalSubscriptionCancelled(ctx, repo, body.Resource.ID)
	default:
		return webhooks.Ignored(fmt.Sprintf("unhandled paypal event type %s", event.EventType)), nil
	}
}

func (s *Service) paypalCaptureCompleted(ctx context.Context, repo Repository, captureID string) (webhooks.Result, error) {
	payment, err := repo.FindPaymentByReference(ctx, enums.PaymentProviderPayPal, captureID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up payment")
	}
	if payment == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	now := time.Now().UTC()
	message := "Payment completed via PayPal"
	payment.Status = enums.PaymentStatusCompleted
	payment.ProviderMessage = &message
	payment.PaidAt = &now
	if err := repo.SavePayment(ctx, payment); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "completing payment")
	}
	if err := s.activateSubscription(ctx, repo, payment); err != nil {
		return webhooks.Result{}, err
	}
	return webhooks.Processed(fmt.Sprintf("payment %s completed", payment.ReferenceNumber)), nil
}

func (s *Service) paypalCaptureDenied(ctx context.Context, repo Repository, captureID string) (webhooks.Result, error) {
	payment, err := repo.FindPaymentByReference(ctx, enums.PaymentProviderPayPal, captureID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up payment")
	}
	if payment == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	message := "Payment denied via PayPal"
	payment.Status = enums.PaymentStatusFailed
	payment.ProviderMessage = &message
	if err := repo.SavePayment(ctx, payment); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failing payment")
	}
	return webhooks.Processed(fmt.Sprintf("payment %s marked failed", payment.ReferenceNumber)), nil
}

func (s *Service) paypalSubscriptionActivated(ctx context.Context, repo Repository, providerSubscriptionID string) (webhooks.Result, error) {
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderPayPal, providerSubscriptionID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up subscription")
	}
	if subscription == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	subscription.Status = enums.SubscriptionStatusActive
	subscription.IsActive = true
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activating subscription")
	}
	return webhooks.Processed(fmt.Sprintf("subscription %s activated", subscription.ProviderSubscriptionID)), nil
}

func (s *Service) paypalSubscriptionCancelled(ctx context.Context, repo Repository, providerSubscriptionID string) (webhooks.Result, error) {
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderPayPal, providerSubscriptionID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up subscription")
	}
	if subscription == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	now := time.Now().UTC()
	subscription.Status = enums.SubscriptionStatusCancelled
	subscription.IsActive = false
	subscription.AutoRenew = false
	subscription.CancelledAt = &now
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancelling subscription")
	}
	return webhooks.Processed(fmt.Sprintf("subscription %s cancelled", subscription.ProviderSubscriptionID)), nil
}

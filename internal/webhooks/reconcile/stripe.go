package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
)

// stripeObject covers the fields reconciliation reads from the event's
// data.object across payment intents, invoices, and subscriptions.
type stripeObject struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Subscription     string `json:"subscription"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// stripeStatusMap translates provider subscription statuses into local
// ones. Statuses outside the map are ignored rather than guessed at.
var stripeStatusMap = map[string]enums.SubscriptionStatus{
	"active":   enums.SubscriptionStatusActive,
	"past_due": enums.SubscriptionStatusSuspended,
	"canceled": enums.SubscriptionStatusCancelled,
	"unpaid":   enums.SubscriptionStatusExpired,
	"trialing": enums.SubscriptionStatusActive,
}

func (s *Service) applyStripe(ctx context.Context, repo Repository, event *webhooks.Event) (webhooks.Result, error) {
	var object stripeObject
	if err := json.Unmarshal(event.Payload, &object); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding stripe event object")
	}

	switch event.EventType {
	case "payment_intent.succeeded":
		return s.stripePaymentSucceeded(ctx, repo, &object)
	case "payment_intent.payment_failed":
		return s.stripePaymentFailed(ctx, repo, &object)
	case "invoice.paid":
		return s.stripeInvoicePaid(ctx, repo, &object)
	case "invoice.payment_failed":
		return s.stripeInvoiceFailed(ctx, repo, &object)
	case "customer.subscription.created":
		// Subscriptions are created locally at purchase time; the echo
		// from the provider carries nothing new.
		s.log.Info(ctx, "stripe subscription created acknowledged")
		return webhooks.Processed(fmt.Sprintf("subscription %s acknowledged", object.ID)), nil
	case "customer.subscription.updated":
		return s.stripeSubscriptionUpdated(ctx, repo, &object)
	case "customer.subscription.deleted":
		return s.stripeSubscriptionDeleted(ctx, repo, &object)
	default:
		return webhooks.Ignored(fmt.Sprintf("unhandled stripe event type %s", event.EventType)), nil
	}
}

func (s *Service) stripePaymentSucceeded(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	payment, err := repo.FindPaymentByReference(ctx, enums.PaymentProviderStripe, object.ID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up payment")
	}
	if payment == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	now := time.Now().UTC()
	message := "Payment succeeded via Stripe"
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

func (s *Service) stripePaymentFailed(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	payment, err := repo.FindPaymentByReference(ctx, enums.PaymentProviderStripe, object.ID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up payment")
	}
	if payment == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	message := "Payment failed via Stripe"
	if object.LastPaymentError != nil && object.LastPaymentError.Message != "" {
		message = object.LastPaymentError.Message
	}
	payment.Status = enums.PaymentStatusFailed
	payment.ProviderMessage = &message
	if err := repo.SavePayment(ctx, payment); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failing payment")
	}
	return webhooks.Processed(fmt.Sprintf("payment %s marked failed", payment.ReferenceNumber)), nil
}

// stripeInvoicePaid is a renewal: the billing period advances by one plan
// period and a Completed payment is recorded against the invoice id.
func (s *Service) stripeInvoicePaid(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	if object.Subscription == "" {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderStripe, object.Subscription)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up subscription")
	}
	if subscription == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	now := time.Now().UTC()
	periodDays := 30
	plan, err := repo.FindPlanByID(ctx, subscription.PlanID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading plan")
	}
	if plan != nil && plan.PeriodDays > 0 {
		periodDays = plan.PeriodDays
	}

	from := subscription.EndDate
	if from.Before(now) {
		from = now
	}
	subscription.EndDate = from.AddDate(0, 0, periodDays)
	subscription.Status = enums.SubscriptionStatusActive
	subscription.IsActive = true
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "renewing subscription")
	}

	message := "Subscription renewed via Stripe"
	payment, err := repo.FindPaymentByReference(ctx, enums.PaymentProviderStripe, object.ID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up renewal payment")
	}
	if payment == nil {
		payment = &models.Payment{
			UserID:          subscription.UserID,
			SubscriptionID:  &subscription.ID,
			Amount:          decimal.New(object.AmountPaid, -2),
			Currency:        strings.ToUpper(object.Currency),
			Provider:        enums.PaymentProviderStripe,
			Status:          enums.PaymentStatusCompleted,
			ReferenceNumber: object.ID,
			ProviderMessage: &message,
			PaidAt:          &now,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording renewal payment")
		}
	} else {
		payment.Status = enums.PaymentStatusCompleted
		payment.ProviderMessage = &message
		payment.PaidAt = &now
		if err := repo.SavePayment(ctx, payment); err != nil {
			return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refreshing renewal payment")
		}
	}
	return webhooks.Processed(fmt.Sprintf("subscription %s renewed", subscription.ProviderSubscriptionID)), nil
}

func (s *Service) stripeInvoiceFailed(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	if object.Subscription == "" {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderStripe, object.Subscription)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up subscription")
	}
	if subscription == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	subscription.Status = enums.SubscriptionStatusSuspended
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "suspending subscription")
	}
	return webhooks.Processed(fmt.Sprintf("subscription %s suspended", subscription.ProviderSubscriptionID)), nil
}

func (s *Service) stripeSubscriptionUpdated(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderStripe, object.ID)
	if err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up subscription")
	}
	if subscription == nil {
		return webhooks.Ignored(webhooks.ReasonNotFound), nil
	}

	status, ok := stripeStatusMap[object.Status]
	if !ok {
		return webhooks.Ignored(fmt.Sprintf("unhandled stripe subscription status %q", object.Status)), nil
	}
	subscription.Status = status
	switch status {
	case enums.SubscriptionStatusActive:
		subscription.IsActive = true
	case enums.SubscriptionStatusCancelled, enums.SubscriptionStatusExpired:
		subscription.IsActive = false
	}
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return webhooks.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating subscription status")
	}
	return webhooks.Processed(fmt.Sprintf("subscription %s now %s", subscription.ProviderSubscriptionID, status)), nil
}

func (s *Service) stripeSubscriptionDeleted(ctx context.Context, repo Repository, object *stripeObject) (webhooks.Result, error) {
	subscription, err := repo.FindSubscriptionByProviderID(ctx, enums.PaymentProviderStripe, object.ID)
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

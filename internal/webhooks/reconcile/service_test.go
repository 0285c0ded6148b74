package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

type stubTxRunner struct{}

func (s stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRepository struct {
	events        map[string]bool
	payments      map[string]*models.Payment
	subscriptions map[string]*models.Subscription
	plans         map[uuid.UUID]*models.Plan
	recorded      []*models.WebhookEvent
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		events:        map[string]bool{},
		payments:      map[string]*models.Payment{},
		subscriptions: map[string]*models.Subscription{},
		plans:         map[uuid.UUID]*models.Plan{},
	}
}

func eventKey(provider enums.PaymentProvider, eventID string) string {
	return provider.String() + ":" + eventID
}

func paymentKey(provider enums.PaymentProvider, reference string) string {
	return provider.String() + ":" + reference
}

func (s *stubRepository) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepository) EventSeen(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error) {
	return s.events[eventKey(provider, eventID)], nil
}

func (s *stubRepository) RecordEvent(ctx context.Context, event *models.WebhookEvent) error {
	s.events[eventKey(event.Provider, event.EventID)] = true
	s.recorded = append(s.recorded, event)
	return nil
}

func (s *stubRepository) FindPaymentByReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Payment, error) {
	return s.payments[paymentKey(provider, reference)], nil
}

func (s *stubRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	s.payments[paymentKey(payment.Provider, payment.ReferenceNumber)] = payment
	return nil
}

func (s *stubRepository) SavePayment(ctx context.Context, payment *models.Payment) error {
	s.payments[paymentKey(payment.Provider, payment.ReferenceNumber)] = payment
	return nil
}

func (s *stubRepository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	for _, sub := range s.subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *stubRepository) FindSubscriptionByProviderID(ctx context.Context, provider enums.PaymentProvider, providerSubscriptionID string) (*models.Subscription, error) {
	return s.subscriptions[paymentKey(provider, providerSubscriptionID)], nil
}

func (s *stubRepository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	s.subscriptions[paymentKey(subscription.Provider, subscription.ProviderSubscriptionID)] = subscription
	return nil
}

func (s *stubRepository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plans[id], nil
}

func (s *stubRepository) addPayment(payment *models.Payment) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	s.payments[paymentKey(payment.Provider, payment.ReferenceNumber)] = payment
}

func (s *stubRepository) addSubscription(sub *models.Subscription) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subscriptions[paymentKey(sub.Provider, sub.ProviderSubscriptionID)] = sub
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     stubTxRunner{},
		Logger: logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return service
}

func stripeEvent(eventID, eventType string, object map[string]any) *webhooks.Event {
	payload, _ := json.Marshal(object)
	return &webhooks.Event{
		Provider:   enums.PaymentProviderStripe,
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

func paypalEventFor(eventID, eventType, resourceID string) *webhooks.Event {
	payload, _ := json.Marshal(map[string]any{
		"id":         eventID,
		"event_type": eventType,
		"resource":   map[string]any{"id": resourceID},
	})
	return &webhooks.Event{
		Provider:   enums.PaymentProviderPayPal,
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestApplyStripePaymentSucceeded(t *testing.T) {
	repo := newStubRepository()
	sub := &models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_act",
		Status:                 enums.SubscriptionStatusSuspended,
		IsActive:               false,
	}
	repo.addSubscription(sub)
	repo.addPayment(&models.Payment{
		UserID:          sub.UserID,
		SubscriptionID:  &sub.ID,
		Amount:          decimal.RequireFromString("9.99"),
		Provider:        enums.PaymentProviderStripe,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: "pi_123",
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_1", "payment_intent.succeeded", map[string]any{"id": "pi_123"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Status, result.Message)
	}

	payment := repo.payments[paymentKey(enums.PaymentProviderStripe, "pi_123")]
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", payment.Status)
	}
	if payment.PaidAt == nil {
		t.Fatal("expected paid_at to be set")
	}
	if sub.Status != enums.SubscriptionStatusActive || !sub.IsActive {
		t.Fatalf("expected active subscription, got %s active=%v", sub.Status, sub.IsActive)
	}
}

func TestApplyDuplicateEventID(t *testing.T) {
	repo := newStubRepository()
	repo.addPayment(&models.Payment{
		UserID:          uuid.New(),
		Provider:        enums.PaymentProviderStripe,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: "pi_dup",
	})
	service := newTestService(t, repo)
	event := stripeEvent("evt_dup", "payment_intent.succeeded", map[string]any{"id": "pi_dup"})

	first, err := service.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if first.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", first.Status)
	}

	second, err := service.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Status != webhooks.StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Status)
	}
	if len(repo.recorded) != 1 {
		t.Fatalf("expected a single ledger row, got %d", len(repo.recorded))
	}
}

func TestApplyStripeInvoicePaymentFailedSuspends(t *testing.T) {
	repo := newStubRepository()
	repo.addSubscription(&models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_inv_fail",
		Status:                 enums.SubscriptionStatusActive,
		IsActive:               true,
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_invf", "invoice.payment_failed", map[string]any{
		"id":           "in_fail",
		"subscription": "sub_inv_fail",
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	sub := repo.subscriptions[paymentKey(enums.PaymentProviderStripe, "sub_inv_fail")]
	if sub.Status != enums.SubscriptionStatusSuspended {
		t.Fatalf("expected suspended, got %s", sub.Status)
	}
}

func TestApplyStripeSubscriptionDeleted(t *testing.T) {
	repo := newStubRepository()
	repo.addSubscription(&models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_del_test",
		Status:                 enums.SubscriptionStatusActive,
		IsActive:               true,
		AutoRenew:              true,
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_del", "customer.subscription.deleted", map[string]any{"id": "sub_del_test"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	sub := repo.subscriptions[paymentKey(enums.PaymentProviderStripe, "sub_del_test")]
	if sub.Status != enums.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", sub.Status)
	}
	if sub.IsActive || sub.AutoRenew {
		t.Fatalf("expected flags cleared, got active=%v auto_renew=%v", sub.IsActive, sub.AutoRenew)
	}
	if sub.CancelledAt == nil {
		t.Fatal("expected cancelled_at to be set")
	}
}

func TestApplyStripeSubscriptionUpdatedStatusMap(t *testing.T) {
	cases := []struct {
		provider   string
		want       enums.SubscriptionStatus
		wantActive bool
	}{
		{"active", enums.SubscriptionStatusActive, true},
		{"past_due", enums.SubscriptionStatusSuspended, true},
		{"canceled", enums.SubscriptionStatusCancelled, false},
		{"unpaid", enums.SubscriptionStatusExpired, false},
		{"trialing", enums.SubscriptionStatusActive, true},
	}

	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			repo := newStubRepository()
			repo.addSubscription(&models.Subscription{
				UserID:                 uuid.New(),
				Provider:               enums.PaymentProviderStripe,
				ProviderSubscriptionID: "sub_upd",
				Status:                 enums.SubscriptionStatusActive,
				IsActive:               true,
			})
			service := newTestService(t, repo)

			result, err := service.Apply(context.Background(), stripeEvent("evt_upd_"+tc.provider, "customer.subscription.updated", map[string]any{
				"id":     "sub_upd",
				"status": tc.provider,
			}))
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if result.Status != webhooks.StatusProcessed {
				t.Fatalf("expected processed, got %s", result.Status)
			}
			sub := repo.subscriptions[paymentKey(enums.PaymentProviderStripe, "sub_upd")]
			if sub.Status != tc.want {
				t.Fatalf("provider status %s: expected %s, got %s", tc.provider, tc.want, sub.Status)
			}
			if sub.IsActive != tc.wantActive {
				t.Fatalf("provider status %s: expected is_active=%v, got %v", tc.provider, tc.wantActive, sub.IsActive)
			}
		})
	}
}

func TestApplyStripeSubscriptionUpdatedUnknownStatusIgnored(t *testing.T) {
	repo := newStubRepository()
	repo.addSubscription(&models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_upd",
		Status:                 enums.SubscriptionStatusSuspended,
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_upd_paused", "customer.subscription.updated", map[string]any{
		"id":     "sub_upd",
		"status": "paused",
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	sub := repo.subscriptions[paymentKey(enums.PaymentProviderStripe, "sub_upd")]
	if sub.Status != enums.SubscriptionStatusSuspended {
		t.Fatalf("expected status untouched, got %s", sub.Status)
	}
}

func TestApplyStripeInvoicePaidRenews(t *testing.T) {
	repo := newStubRepository()
	plan := &models.Plan{ID: uuid.New(), Name: "Pro", PeriodDays: 30}
	repo.plans[plan.ID] = plan
	endDate := time.Now().UTC().Add(24 * time.Hour)
	repo.addSubscription(&models.Subscription{
		UserID:                 uuid.New(),
		PlanID:                 plan.ID,
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_renew",
		Status:                 enums.SubscriptionStatusSuspended,
		EndDate:                endDate,
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_inv", "invoice.paid", map[string]any{
		"id":           "in_42",
		"subscription": "sub_renew",
		"amount_paid":  999,
		"currency":     "usd",
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Status, result.Message)
	}

	sub := repo.subscriptions[paymentKey(enums.PaymentProviderStripe, "sub_renew")]
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	wantEnd := endDate.AddDate(0, 0, 30)
	if !sub.EndDate.Equal(wantEnd) {
		t.Fatalf("expected end date %s, got %s", wantEnd, sub.EndDate)
	}

	payment := repo.payments[paymentKey(enums.PaymentProviderStripe, "in_42")]
	if payment == nil {
		t.Fatal("expected renewal payment keyed by invoice id")
	}
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed renewal payment, got %s", payment.Status)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("expected amount 9.99, got %s", payment.Amount)
	}
	if payment.Currency != "USD" {
		t.Fatalf("expected USD, got %s", payment.Currency)
	}
	if payment.SubscriptionID == nil || *payment.SubscriptionID != sub.ID {
		t.Fatal("expected renewal payment linked to subscription")
	}
}

func TestApplyUnknownEventTypeIgnored(t *testing.T) {
	repo := newStubRepository()
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_unknown", "charge.refund.updated", map[string]any{"id": "re_1"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	// Ignored events still land in the ledger so redelivery is a duplicate.
	if len(repo.recorded) != 1 {
		t.Fatalf("expected ledger row, got %d", len(repo.recorded))
	}
}

func TestApplyPaymentNotFoundIgnored(t *testing.T) {
	repo := newStubRepository()
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), stripeEvent("evt_missing", "payment_intent.succeeded", map[string]any{"id": "pi_missing"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	if result.Message != webhooks.ReasonNotFound {
		t.Fatalf("expected not_found, got %q", result.Message)
	}
	// The missing record is a race with local row creation; the event must
	// stay off the ledger so redelivery can apply.
	if len(repo.recorded) != 0 {
		t.Fatalf("expected no ledger row, got %d", len(repo.recorded))
	}
}

func TestApplyRedeliveryAfterPaymentCreated(t *testing.T) {
	repo := newStubRepository()
	service := newTestService(t, repo)
	event := stripeEvent("evt_race", "payment_intent.succeeded", map[string]any{"id": "pi_race"})

	result, err := service.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if !result.NotFound() {
		t.Fatalf("expected not_found, got %s (%s)", result.Status, result.Message)
	}

	repo.addPayment(&models.Payment{
		UserID:          uuid.New(),
		Provider:        enums.PaymentProviderStripe,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: "pi_race",
	})

	result, err = service.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed on redelivery, got %s (%s)", result.Status, result.Message)
	}
	payment := repo.payments[paymentKey(enums.PaymentProviderStripe, "pi_race")]
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", payment.Status)
	}
	if len(repo.recorded) != 1 {
		t.Fatalf("expected one ledger row after redelivery, got %d", len(repo.recorded))
	}
}

func TestApplyPayPalCaptureCompleted(t *testing.T) {
	repo := newStubRepository()
	sub := &models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderPayPal,
		ProviderSubscriptionID: "I-BW452GLLEP1G",
		Status:                 enums.SubscriptionStatusSuspended,
	}
	repo.addSubscription(sub)
	repo.addPayment(&models.Payment{
		UserID:          sub.UserID,
		SubscriptionID:  &sub.ID,
		Provider:        enums.PaymentProviderPayPal,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: "8XY12345AB678901C",
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), paypalEventFor("WH-1", "PAYMENT.CAPTURE.COMPLETED", "8XY12345AB678901C"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	payment := repo.payments[paymentKey(enums.PaymentProviderPayPal, "8XY12345AB678901C")]
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", payment.Status)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active subscription, got %s", sub.Status)
	}
}

func TestApplyPayPalCaptureDenied(t *testing.T) {
	repo := newStubRepository()
	repo.addPayment(&models.Payment{
		UserID:          uuid.New(),
		Provider:        enums.PaymentProviderPayPal,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: "9ZZ00000AA000000B",
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), paypalEventFor("WH-2", "PAYMENT.CAPTURE.DENIED", "9ZZ00000AA000000B"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	payment := repo.payments[paymentKey(enums.PaymentProviderPayPal, "9ZZ00000AA000000B")]
	if payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", payment.Status)
	}
	if payment.ProviderMessage == nil || *payment.ProviderMessage != "Payment denied via PayPal" {
		t.Fatalf("unexpected provider message %v", payment.ProviderMessage)
	}
}

func TestApplyPayPalSubscriptionCancelled(t *testing.T) {
	repo := newStubRepository()
	repo.addSubscription(&models.Subscription{
		UserID:                 uuid.New(),
		Provider:               enums.PaymentProviderPayPal,
		ProviderSubscriptionID: "I-CANCEL1",
		Status:                 enums.SubscriptionStatusActive,
		IsActive:               true,
		AutoRenew:              true,
	})
	service := newTestService(t, repo)

	result, err := service.Apply(context.Background(), paypalEventFor("WH-3", "BILLING.SUBSCRIPTION.CANCELLED", "I-CANCEL1"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != webhooks.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	sub := repo.subscriptions[paymentKey(enums.PaymentProviderPayPal, "I-CANCEL1")]
	if sub.Status != enums.SubscriptionStatusCancelled || sub.IsActive || sub.AutoRenew {
		t.Fatalf("expected cancelled inactive subscription, got %s active=%v auto_renew=%v", sub.Status, sub.IsActive, sub.AutoRenew)
	}
}

package renewals

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
)

type stubTxRunner struct{}

func (s stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubRepository struct {
	due      []models.Subscription
	lapsed   []models.Subscription
	subs     map[uuid.UUID]*models.Subscription
	plans    map[uuid.UUID]*models.Plan
	payments []*models.Payment
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		subs:  map[uuid.UUID]*models.Subscription{},
		plans: map[uuid.UUID]*models.Plan{},
	}
}

func (s *stubRepository) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepository) DueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	return s.due, nil
}

func (s *stubRepository) PastDueNonRenewing(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	return s.lapsed, nil
}

func (s *stubRepository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subs[id], nil
}

func (s *stubRepository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	s.subs[subscription.ID] = subscription
	return nil
}

func (s *stubRepository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plans[id], nil
}

func (s *stubRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	s.payments = append(s.payments, payment)
	return nil
}

type stubGateway struct {
	provider  enums.PaymentProvider
	chargeErr error
	charges   []gateway.ChargeParams
}

func (s *stubGateway) Provider() enums.PaymentProvider { return s.provider }

func (s *stubGateway) Charge(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
	s.charges = append(s.charges, params)
	if s.chargeErr != nil {
		return nil, s.chargeErr
	}
	return &gateway.ChargeResult{ReferenceNumber: "pi_renewal", Status: enums.PaymentStatusPending}, nil
}

func (s *stubGateway) Refund(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*webhooks.Event, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, repo Repository, emitter *stubEmitter, gateways ...gateway.Gateway) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "renewals-test", Output: io.Discard}),
		DB:       stubTxRunner{},
		Repo:     repo,
		Gateways: gateway.NewRegistry(gateways...),
		Outbox:   emitter,
	})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return service
}

func dueSubscription(planID uuid.UUID) *models.Subscription {
	return &models.Subscription{
		ID:                     uuid.New(),
		UserID:                 uuid.New(),
		PlanID:                 planID,
		Status:                 enums.SubscriptionStatusActive,
		Provider:               enums.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_due",
		EndDate:                time.Now().UTC().Add(-time.Hour),
		AutoRenew:              true,
		IsActive:               true,
	}
}

func TestRenewDueChargesAndExtends(t *testing.T) {
	repo := newStubRepository()
	plan := &models.Plan{ID: uuid.New(), Name: "Pro", Price: decimal.RequireFromString("9.99"), Currency: "USD", PeriodDays: 30}
	repo.plans[plan.ID] = plan
	sub := dueSubscription(plan.ID)
	endDate := sub.EndDate
	repo.subs[sub.ID] = sub
	repo.due = []models.Subscription{*sub}
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	emitter := &stubEmitter{}
	service := newTestService(t, repo, emitter, gw)

	if err := service.renewDue(context.Background()); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if len(gw.charges) != 1 {
		t.Fatalf("expected one charge, got %d", len(gw.charges))
	}
	if !gw.charges[0].Amount.Equal(plan.Price) {
		t.Fatalf("expected charge %s, got %s", plan.Price, gw.charges[0].Amount)
	}
	if len(repo.payments) != 1 {
		t.Fatalf("expected pending payment, got %d", len(repo.payments))
	}
	if repo.payments[0].Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", repo.payments[0].Status)
	}
	if !sub.EndDate.After(endDate) {
		t.Fatal("expected end date extended")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventSubscriptionRenewed {
		t.Fatalf("expected renewal event, got %+v", emitter.events)
	}
}

func TestRenewDueFailedChargeSuspends(t *testing.T) {
	repo := newStubRepository()
	plan := &models.Plan{ID: uuid.New(), Name: "Pro", Price: decimal.RequireFromString("9.99"), Currency: "USD", PeriodDays: 30}
	repo.plans[plan.ID] = plan
	sub := dueSubscription(plan.ID)
	repo.subs[sub.ID] = sub
	repo.due = []models.Subscription{*sub}
	gw := &stubGateway{provider: enums.PaymentProviderStripe, chargeErr: errors.New("card declined")}
	emitter := &stubEmitter{}
	service := newTestService(t, repo, emitter, gw)

	if err := service.renewDue(context.Background()); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusSuspended {
		t.Fatalf("expected suspended, got %s", sub.Status)
	}
	if len(repo.payments) != 0 {
		t.Fatal("expected no payment row on failed charge")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventNotificationRequested {
		t.Fatalf("expected payment-failed notification event, got %+v", emitter.events)
	}
}

func TestExpirePastDue(t *testing.T) {
	repo := newStubRepository()
	sub := dueSubscription(uuid.New())
	sub.AutoRenew = false
	repo.subs[sub.ID] = sub
	repo.lapsed = []models.Subscription{*sub}
	emitter := &stubEmitter{}
	service := newTestService(t, repo, emitter, &stubGateway{provider: enums.PaymentProviderStripe})

	if err := service.expirePastDue(context.Background()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusExpired || sub.IsActive {
		t.Fatalf("expected expired inactive, got %s active=%v", sub.Status, sub.IsActive)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventSubscriptionExpired {
		t.Fatalf("expected expiry event, got %+v", emitter.events)
	}
}

func TestExpireAlreadyExpiredIsNoOp(t *testing.T) {
	repo := newStubRepository()
	sub := dueSubscription(uuid.New())
	sub.Status = enums.SubscriptionStatusExpired
	repo.subs[sub.ID] = sub
	repo.lapsed = []models.Subscription{*sub}
	emitter := &stubEmitter{}
	service := newTestService(t, repo, emitter, &stubGateway{provider: enums.PaymentProviderStripe})

	if err := service.expirePastDue(context.Background()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

type stubTxRunner struct{}

func (s stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRepository struct {
	payments map[uuid.UUID]*models.Payment
	saved    *models.Payment
	saveErr  error
}

func newStubRepository() *stubRepository {
	return &stubRepository{payments: map[uuid.UUID]*models.Payment{}}
}

func (s *stubRepository) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.payments[id], nil
}

func (s *stubRepository) SavePayment(ctx context.Context, payment *models.Payment) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = payment
	s.payments[payment.ID] = payment
	return nil
}

type stubGateway struct {
	provider   enums.PaymentProvider
	refundErr  error
	lastRefund gateway.RefundParams
}

func (s *stubGateway) Provider() enums.PaymentProvider { return s.provider }

func (s *stubGateway) Charge(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) Refund(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	s.lastRefund = params
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &gateway.RefundResult{ProviderRefundID: "re_1", Status: "succeeded"}, nil
}

func (s *stubGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*webhooks.Event, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, repo Repository, gateways ...gateway.Gateway) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Repo:     repo,
		Gateways: gateway.NewRegistry(gateways...),
		Tx:       stubTxRunner{},
		Logger:   logger.New(logger.Options{ServiceName: "billing-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return service
}

func completedPayment(provider enums.PaymentProvider, amount string) *models.Payment {
	return &models.Payment{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		Provider:        provider,
		Status:          enums.PaymentStatusCompleted,
		ReferenceNumber: "pi_refund_test",
	}
}

func TestProcessRefundFull(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderStripe, "49.99")
	repo.payments[payment.ID] = payment
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	service := newTestService(t, repo, gw)

	outcome, err := service.ProcessRefund(context.Background(), payment.ID, nil, "requested_by_customer")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if outcome.Status != enums.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", outcome.Status)
	}
	if !outcome.RefundedAmount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("expected full amount, got %s", outcome.RefundedAmount)
	}
	if !gw.lastRefund.Amount.IsZero() {
		t.Fatalf("full refund should omit amount, got %s", gw.lastRefund.Amount)
	}
	if repo.saved == nil || repo.saved.Status != enums.PaymentStatusRefunded {
		t.Fatal("expected refunded payment persisted")
	}
}

func TestProcessRefundPartial(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderStripe, "49.99")
	repo.payments[payment.ID] = payment
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	service := newTestService(t, repo, gw)

	partial := decimal.RequireFromString("10.00")
	outcome, err := service.ProcessRefund(context.Background(), payment.ID, &partial, "partial")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if outcome.Status != enums.PaymentStatusPartiallyRefunded {
		t.Fatalf("expected partially refunded, got %s", outcome.Status)
	}
	if !gw.lastRefund.Amount.Equal(partial) {
		t.Fatalf("expected partial amount forwarded, got %s", gw.lastRefund.Amount)
	}
}

func TestProcessRefundPartialEqualToTotalIsFull(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderStripe, "25.00")
	repo.payments[payment.ID] = payment
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	service := newTestService(t, repo, gw)

	amount := decimal.RequireFromString("25.00")
	outcome, err := service.ProcessRefund(context.Background(), payment.ID, &amount, "")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if outcome.Status != enums.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", outcome.Status)
	}
}

func TestProcessRefundPendingPaymentRejected(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderStripe, "9.99")
	payment.Status = enums.PaymentStatusPending
	repo.payments[payment.ID] = payment
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	service := newTestService(t, repo, gw)

	_, err := service.ProcessRefund(context.Background(), payment.ID, nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	coded, ok := pkgerrors.As(err)
	if !ok || coded.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if coded.Message() != "Payment is not in completed status." {
		t.Fatalf("unexpected message %q", coded.Message())
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected no state change, got %s", payment.Status)
	}
	if repo.saved != nil {
		t.Fatal("expected no persistence")
	}
}

func TestProcessRefundPaymentNotFound(t *testing.T) {
	repo := newStubRepository()
	service := newTestService(t, repo, &stubGateway{provider: enums.PaymentProviderStripe})

	_, err := service.ProcessRefund(context.Background(), uuid.New(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if coded, ok := pkgerrors.As(err); !ok || coded.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessRefundGatewayFailureLeavesPaymentUntouched(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderPayPal, "15.00")
	repo.payments[payment.ID] = payment
	gw := &stubGateway{provider: enums.PaymentProviderPayPal, refundErr: errors.New("provider down")}
	service := newTestService(t, repo, gw)

	_, err := service.ProcessRefund(context.Background(), payment.ID, nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if coded, ok := pkgerrors.As(err); !ok || coded.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", payment.Status)
	}
	if repo.saved != nil {
		t.Fatal("expected no persistence on gateway failure")
	}
}

func TestProcessRefundAmountValidation(t *testing.T) {
	repo := newStubRepository()
	payment := completedPayment(enums.PaymentProviderStripe, "9.99")
	repo.payments[payment.ID] = payment
	service := newTestService(t, repo, &stubGateway{provider: enums.PaymentProviderStripe})

	tooMuch := decimal.RequireFromString("10.00")
	if _, err := service.ProcessRefund(context.Background(), payment.ID, &tooMuch, ""); err == nil {
		t.Fatal("expected error for amount above payment")
	}
	negative := decimal.RequireFromString("-1.00")
	if _, err := service.ProcessRefund(context.Background(), payment.ID, &negative, ""); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

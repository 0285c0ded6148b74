package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo     Repository
	Gateways *gateway.Registry
	Tx       TxRunner
	Logger   *logger.Logger
}

// Service implements the refund flow over payment records and the
// provider gateways.
type Service struct {
	repo     Repository
	gateways *gateway.Registry
	tx       TxRunner
	log      *logger.Logger
}

// NewService validates its dependencies and returns a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("billing: repository is required")
	}
	if params.Gateways == nil {
		return nil, errors.New("billing: gateway registry is required")
	}
	if params.Tx == nil {
		return nil, errors.New("billing: transaction runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("billing: logger is required")
	}
	return &Service{
		repo:     params.Repo,
		gateways: params.Gateways,
		tx:       params.Tx,
		log:      params.Logger,
	}, nil
}

// RefundOutcome reports a refund that the provider accepted.
type RefundOutcome struct {
	PaymentID        uuid.UUID           `json:"payment_id"`
	Status           enums.PaymentStatus `json:"status"`
	RefundedAmount   decimal.Decimal     `json:"refunded_amount"`
	ProviderRefundID string              `json:"provider_refund_id"`
}

// ProcessRefund refunds a completed payment, fully when amount is nil and
// partially otherwise. The gateway call happens before any local mutation
// so a provider failure leaves the payment untouched.
func (s *Service) ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount *decimal.Decimal, reason string) (*RefundOutcome, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Payment not found.")
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "Payment is not in completed status.")
	}

	refundAmount := payment.Amount
	fullRefund := true
	if amount != nil {
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "Refund amount must be positive.")
		}
		if amount.GreaterThan(payment.Amount) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "Refund amount exceeds the original payment.")
		}
		refundAmount = *amount
		fullRefund = amount.Equal(payment.Amount)
	}

	provider, err := s.gateways.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	params := gateway.RefundParams{
		ReferenceNumber: payment.ReferenceNumber,
		Currency:        payment.Currency,
		Reason:          reason,
	}
	if !fullRefund {
		params.Amount = refundAmount
	}
	result, err := provider.Refund(ctx, params)
	if err != nil {
		s.log.Error(ctx, "gateway refund failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refunding with provider")
	}

	if fullRefund {
		payment.Status = enums.PaymentStatusRefunded
	} else {
		payment.Status = enums.PaymentStatusPartiallyRefunded
	}
	now := time.Now().UTC()
	payment.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).SavePayment(ctx, payment)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting refund")
	}

	ctx = s.log.WithField(ctx, "payment_id", payment.ID.String())
	s.log.Info(s.log.WithField(ctx, "refund_status", payment.Status.String()), "payment refunded")

	return &RefundOutcome{
		PaymentID:        payment.ID,
		Status:           payment.Status,
		RefundedAmount:   refundAmount,
		ProviderRefundID: result.ProviderRefundID,
	}, nil
}

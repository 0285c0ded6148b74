package discounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

var oneHundred = decimal.NewFromInt(100)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo   Repository
	Tx     TxRunner
	Logger *logger.Logger
}

// Service validates and redeems coupon codes.
type Service struct {
	repo Repository
	tx   TxRunner
	log  *logger.Logger
	now  func() time.Time
}

// NewService validates its dependencies and returns a discounts service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("discounts: repository is required")
	}
	if params.Tx == nil {
		return nil, errors.New("discounts: transaction runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("discounts: logger is required")
	}
	return &Service{
		repo: params.Repo,
		tx:   params.Tx,
		log:  params.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// CouponPreview is the read-only result of validating a code.
type CouponPreview struct {
	Code           string             `json:"code"`
	Description    string             `json:"description"`
	DiscountType   enums.DiscountType `json:"discount_type"`
	DiscountValue  decimal.Decimal    `json:"discount_value"`
	DiscountAmount *decimal.Decimal   `json:"discount_amount,omitempty"`
	FinalAmount    *decimal.Decimal   `json:"final_amount,omitempty"`
}

// Redemption is the result of applying a coupon to an amount.
type Redemption struct {
	Code            string          `json:"code"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
}

// ValidateCoupon checks a code against the eligibility rules without
// mutating anything. When amount is provided the preview includes the
// computed discount and the min-purchase rule is enforced.
func (s *Service) ValidateCoupon(ctx context.Context, code string, userID uuid.UUID, amount *decimal.Decimal) (*CouponPreview, error) {
	coupon, err := s.repo.FindCouponByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading coupon")
	}
	if err := s.checkEligibility(ctx, s.repo, coupon, userID, amount); err != nil {
		return nil, err
	}

	preview := &CouponPreview{
		Code:          coupon.Code,
		Description:   coupon.Description,
		DiscountType:  coupon.DiscountType,
		DiscountValue: coupon.DiscountValue,
	}
	if amount != nil {
		discount, final := computeDiscount(coupon, *amount)
		preview.DiscountAmount = &discount
		preview.FinalAmount = &final
	}
	return preview, nil
}

// ApplyCoupon redeems a code against an amount. The re-validation, counter
// increment, and usage insert happen in one transaction under a row lock on
// the coupon, so concurrent redemptions cannot jointly exceed max_uses.
func (s *Service) ApplyCoupon(ctx context.Context, code string, userID uuid.UUID, originalAmount decimal.Decimal) (*Redemption, error) {
	if originalAmount.LessThan(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Amount must not be negative.")
	}

	var redemption *Redemption
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		coupon, err := repo.FindCouponByCodeForUpdate(ctx, normalizeCode(code))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading coupon")
		}
		if err := s.checkEligibility(ctx, repo, coupon, userID, &originalAmount); err != nil {
			return err
		}

		discount, finalAmount := computeDiscount(coupon, originalAmount)

		usage := &models.CouponUsage{
			CouponID:        coupon.ID,
			UserID:          userID,
			OriginalAmount:  originalAmount,
			DiscountApplied: discount,
			FinalAmount:     finalAmount,
		}
		if err := repo.CreateUsage(ctx, usage); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording coupon usage")
		}

		coupon.CurrentUses++
		if err := repo.SaveCoupon(ctx, coupon); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "incrementing coupon uses")
		}

		redemption = &Redemption{
			Code:            coupon.Code,
			OriginalAmount:  originalAmount,
			DiscountApplied: discount,
			FinalAmount:     finalAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.log.WithFields(ctx, map[string]any{
		"coupon_code": redemption.Code,
		"user_id":     userID.String(),
	})
	s.log.Info(ctx, "coupon applied")
	return redemption, nil
}

func (s *Service) checkEligibility(ctx context.Context, repo Repository, coupon *models.Coupon, userID uuid.UUID, amount *decimal.Decimal) error {
	if coupon == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "Invalid coupon code.")
	}
	if !coupon.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "Coupon is not active.")
	}
	now := s.now()
	if now.Before(coupon.ValidFrom) {
		return pkgerrors.New(pkgerrors.CodeValidation, "Coupon is not yet valid.")
	}
	if now.After(coupon.ValidUntil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "Coupon has expired.")
	}
	if !coupon.HasGlobalCapacity() {
		return pkgerrors.New(pkgerrors.CodeConflict, "Coupon usage limit reached.")
	}

	if coupon.MaxUsesPerUser > 0 {
		used, err := repo.CountUsages(ctx, coupon.ID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "counting coupon usages")
		}
		if used >= int64(coupon.MaxUsesPerUser) {
			return pkgerrors.New(pkgerrors.CodeConflict, "You have already used this coupon.")
		}
	}

	if coupon.FirstPurchaseOnly {
		purchased, err := repo.HasCompletedPayment(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking purchase history")
		}
		if purchased {
			return pkgerrors.New(pkgerrors.CodeValidation, "This coupon is only valid for your first purchase.")
		}
	}

	if amount != nil && coupon.MinPurchaseAmount != nil && amount.LessThan(*coupon.MinPurchaseAmount) {
		return pkgerrors.Newf(pkgerrors.CodeValidation,
			"Minimum purchase amount of %s required.", coupon.MinPurchaseAmount.StringFixed(2))
	}
	return nil
}

// computeDiscount returns the discount and the resulting amount, rounded
// to two minor-unit digits and floored at zero.
func computeDiscount(coupon *models.Coupon, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		discount = amount.Mul(coupon.DiscountValue).Div(oneHundred)
	default:
		discount = coupon.DiscountValue
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}
	discount = discount.Round(2)
	final := amount.Sub(discount).Round(2)
	if final.LessThan(decimal.Zero) {
		final = decimal.Zero
	}
	return discount, final
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/api/middleware"
	"github.com/subhubhq/subhub-backend/api/responses"
	"github.com/subhubhq/subhub-backend/api/validators"
	"github.com/subhubhq/subhub-backend/internal/discounts"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

type CouponsService interface {
	ValidateCoupon(ctx context.Context, code string, userID uuid.UUID, amount *decimal.Decimal) (*discounts.CouponPreview, error)
	ApplyCoupon(ctx context.Context, code string, userID uuid.UUID, originalAmount decimal.Decimal) (*discounts.Redemption, error)
}

type validateCouponRequest struct {
	Code   string           `json:"code" validate:"required,min=1,max=64"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type applyCouponRequest struct {
	Code   string          `json:"code" validate:"required,min=1,max=64"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// ValidateCoupon previews a coupon for the authenticated user without
// consuming a use.
func ValidateCoupon(svc CouponsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req validateCouponRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		preview, err := svc.ValidateCoupon(ctx, req.Code, userID, req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, preview)
	}
}

// ApplyCoupon redeems a coupon against the supplied amount.
func ApplyCoupon(svc CouponsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req applyCouponRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if req.Amount.IsNegative() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative"))
			return
		}

		redemption, err := svc.ApplyCoupon(ctx, req.Code, userID, req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, redemption)
	}
}

func authenticatedUserID(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return userID, nil
}

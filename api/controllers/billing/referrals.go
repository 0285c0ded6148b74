package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/api/responses"
	"github.com/subhubhq/subhub-backend/api/validators"
	"github.com/subhubhq/subhub-backend/internal/referrals"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

type ReferralsService interface {
	GenerateCode(ctx context.Context, userID uuid.UUID, rewardType enums.ReferralRewardType, rewardAmount decimal.Decimal) (*models.ReferralCode, error)
	ApplyCode(ctx context.Context, code string, newUserID uuid.UUID) (*referrals.Application, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*referrals.Stats, error)
}

type generateReferralCodeRequest struct {
	RewardType   string          `json:"reward_type" validate:"required"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
}

type applyReferralCodeRequest struct {
	Code string `json:"code" validate:"required,min=1,max=16"`
}

type referralCodeView struct {
	Code         string          `json:"code"`
	RewardType   string          `json:"reward_type"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	CurrentUses  int             `json:"current_uses"`
	MaxUses      int             `json:"max_uses"`
	IsActive     bool            `json:"is_active"`
}

// GenerateReferralCode returns the user's active code, creating one when
// none exists.
func GenerateReferralCode(svc ReferralsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req generateReferralCodeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rewardType := enums.ReferralRewardType(req.RewardType)
		if !rewardType.IsValid() {
			responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown reward type %q", req.RewardType))
			return
		}
		if req.RewardAmount.IsNegative() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reward amount must not be negative"))
			return
		}

		code, err := svc.GenerateCode(ctx, userID, rewardType, req.RewardAmount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, referralCodeView{
			Code:         code.Code,
			RewardType:   string(code.RewardType),
			RewardAmount: code.RewardAmount,
			CurrentUses:  code.CurrentUses,
			MaxUses:      code.MaxUses,
			IsActive:     code.IsActive,
		})
	}
}

// ApplyReferralCode redeems a referral code for the authenticated user.
func ApplyReferralCode(svc ReferralsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req applyReferralCodeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		application, err := svc.ApplyCode(ctx, req.Code, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, application)
	}
}

// ReferralStats returns the authenticated user's referral aggregate.
func ReferralStats(svc ReferralsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		stats, err := svc.GetStats(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, stats)
	}
}

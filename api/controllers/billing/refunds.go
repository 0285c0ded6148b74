package billing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/api/responses"
	"github.com/subhubhq/subhub-backend/api/validators"
	internalbilling "github.com/subhubhq/subhub-backend/internal/billing"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

type RefundsService interface {
	ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount *decimal.Decimal, reason string) (*internalbilling.RefundOutcome, error)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" validate:"max=256"`
}

// RefundPayment refunds a completed payment, fully when no amount is
// supplied and partially otherwise.
func RefundPayment(svc RefundsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		reason := validators.SanitizeString(req.Reason, 256)
		outcome, err := svc.ProcessRefund(ctx, paymentID, req.Amount, reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, outcome)
	}
}

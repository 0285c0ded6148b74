package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/api/responses"
	"github.com/subhubhq/subhub-backend/api/validators"
	"github.com/subhubhq/subhub-backend/internal/notifications"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/pagination"
)

type NotificationsService interface {
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*notifications.ListResult, error)
}

// ListNotifications returns a cursor page of the user's notifications,
// newest first.
func ListNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.List(ctx, userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

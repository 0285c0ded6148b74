package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/subhubhq/subhub-backend/api/responses"
	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/webhooks"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/metrics"
)

type Reconciler interface {
	Apply(ctx context.Context, event *webhooks.Event) (webhooks.Result, error)
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ProviderWebhook handles one provider's webhook endpoint. The gateway
// verifies the signature and normalizes the event; the reconciler applies
// it. A reconciler error releases the fast-path guard and answers 5xx so
// the provider redelivers; a not-found outcome releases the guard too so
// redelivery can apply once the local record lands.
func ProviderWebhook(gw gateway.Gateway, svc Reconciler, guard idempotencyGuard, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	if wm == nil {
		wm = metrics.NewWebhookMetrics(nil)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if gw == nil || svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		provider := string(gw.Provider())
		start := time.Now()

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := gw.ParseWebhook(ctx, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wm.IncReceived(provider, event.EventType)

		alreadySeen, err := guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadySeen {
			wm.IncOutcome(provider, string(webhooks.StatusDuplicate))
			responses.WriteSuccess(w, webhooks.Duplicate("event already received"))
			return
		}

		result, err := svc.Apply(ctx, event)
		if err != nil {
			_ = guard.Delete(ctx, event.EventID)
			wm.IncOutcome(provider, "error")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.NotFound() {
			// The local record has not been created yet; free the
			// fast-path key so the redelivery is not short-circuited.
			_ = guard.Delete(ctx, event.EventID)
		}

		wm.IncOutcome(provider, string(result.Status))
		wm.ObserveDuration(provider, time.Since(start))
		responses.WriteSuccess(w, result)
	}
}

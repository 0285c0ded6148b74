package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/webhooks"
	dbpkg "github.com/subhubhq/subhub-backend/pkg/db"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
)

// errDuplicateEvent aborts the transaction when the ledger insert collides,
// so the partial side effects of the losing delivery roll back.
var errDuplicateEvent = errors.New("webhook event already recorded")

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

// Service applies normalized webhook events to local payment and
// subscription state. Each event is applied in a single transaction
// together with its processed-event ledger row.
type Service struct {
	repo Repository
	tx   TxRunner
	log  *logger.Logger
}

// NewService validates its dependencies and returns a reconciliation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("reconcile: repository is required")
	}
	if params.Tx == nil {
		return nil, errors.New("reconcile: transaction runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("reconcile: logger is required")
	}
	return &Service{repo: params.Repo, tx: params.Tx, log: params.Logger}, nil
}

// Apply reconciles one event. The returned Result reports the business
// outcome; a non-nil error means a dependency failed and the delivery
// should be retried by the provider.
func (s *Service) Apply(ctx context.Context, event *webhooks.Event) (webhooks.Result, error) {
	if event == nil {
		return webhooks.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if event.EventID == "" || event.EventType == "" {
		return webhooks.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "event id and type are required")
	}
	if !event.Provider.IsValid() {
		return webhooks.Result{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown payment provider %q", event.Provider)
	}

	ctx = s.log.WithProvider(ctx, event.Provider.String())
	ctx = s.log.WithEventID(ctx, event.EventID)

	var result webhooks.Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		seen, err := repo.EventSeen(ctx, event.Provider, event.EventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking processed-event ledger")
		}
		if seen {
			return errDuplicateEvent
		}

		result, err = s.dispatch(ctx, repo, event)
		if err != nil {
			return err
		}

		// An event that raced ahead of its local record must stay
		// off the ledger so the provider's redelivery can apply.
		if result.NotFound() {
			return nil
		}

		ledgerRow := &models.WebhookEvent{
			Provider:    event.Provider,
			EventID:     event.EventID,
			EventType:   event.EventType,
			Payload:     event.Payload,
			ProcessedAt: time.Now().UTC(),
		}
		if err := repo.RecordEvent(ctx, ledgerRow); err != nil {
			if dbpkg.IsUniqueViolation(err) {
				return errDuplicateEvent
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording webhook event")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errDuplicateEvent) {
			s.log.Info(ctx, "webhook event already processed")
			return webhooks.Duplicate(fmt.Sprintf("event %s already processed", event.EventID)), nil
		}
		return webhooks.Result{}, err
	}

	s.log.Info(s.log.WithField(ctx, "outcome", string(result.Status)), "webhook event reconciled")
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, repo Repository, event *webhooks.Event) (webhooks.Result, error) {
	switch event.Provider {
	case enums.PaymentProviderStripe:
		return s.applyStripe(ctx, repo, event)
	case enums.PaymentProviderPayPal:
		return s.applyPayPal(ctx, repo, event)
	default:
		return webhooks.Ignored(fmt.Sprintf("no handler for provider %s", event.Provider)), nil
	}
}

// activateSubscription flips a payment's subscription to Active. A payment
// with no linked subscription is fine; the event still counts as applied.
func (s *Service) activateSubscription(ctx context.Context, repo Repository, payment *models.Payment) error {
	if payment.SubscriptionID == nil {
		return nil
	}
	subscription, err := repo.FindSubscriptionByID(ctx, *payment.SubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription")
	}
	if subscription == nil {
		return nil
	}
	subscription.Status = enums.SubscriptionStatusActive
	subscription.IsActive = true
	if err := repo.SaveSubscription(ctx, subscription); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activating subscription")
	}
	return nil
}

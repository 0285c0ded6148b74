package renewals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Repository covers the sweep queries over subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	DueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	PastDueNonRenewing(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, subscription *models.Subscription) error
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a renewals repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) DueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("auto_renew = ? AND is_active = ? AND status = ? AND end_date <= ?",
			true, true, enums.SubscriptionStatusActive, asOf).
		Order("end_date ASC").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repository) PastDueNonRenewing(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("auto_renew = ? AND end_date < ? AND status IN ?",
			false, asOf, []enums.SubscriptionStatus{
				enums.SubscriptionStatusActive,
				enums.SubscriptionStatusSuspended,
			}).
		Order("end_date ASC").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&subscription).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

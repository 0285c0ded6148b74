package discounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Repository covers coupon lookups and redemption bookkeeping. The
// ForUpdate variant takes a row lock so check-and-increment on the usage
// counter is serialized per coupon.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error)
	CountUsages(ctx context.Context, couponID, userID uuid.UUID) (int64, error)
	HasCompletedPayment(ctx context.Context, userID uuid.UUID) (bool, error)
	CreateUsage(ctx context.Context, usage *models.CouponUsage) error
	SaveCoupon(ctx context.Context, coupon *models.Coupon) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a discounts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return r.findCoupon(ctx, r.db.WithContext(ctx), code)
}

func (r *repository) FindCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error) {
	query := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findCoupon(ctx, query, code)
}

func (r *repository) findCoupon(ctx context.Context, query *gorm.DB, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := query.Where("code = ?", code).First(&coupon).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) CountUsages(ctx context.Context, couponID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

func (r *repository) HasCompletedPayment(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("user_id = ? AND status = ?", userID, enums.PaymentStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.CouponUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repository) SaveCoupon(ctx context.Context, coupon *models.Coupon) error {
	return r.db.WithContext(ctx).Save(coupon).Error
}

package referrals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Repository covers referral code and transaction persistence. Lookups
// that find nothing return (nil, nil).
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveCodeByUser(ctx context.Context, userID uuid.UUID) (*models.ReferralCode, error)
	FindCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	FindCodeByCodeForUpdate(ctx context.Context, code string) (*models.ReferralCode, error)
	CreateCode(ctx context.Context, code *models.ReferralCode) error
	SaveCode(ctx context.Context, code *models.ReferralCode) error
	CodesByUser(ctx context.Context, userID uuid.UUID) ([]models.ReferralCode, error)
	HasTransactionForUser(ctx context.Context, referredUserID uuid.UUID) (bool, error)
	CreateTransaction(ctx context.Context, transaction *models.ReferralTransaction) error
	SaveTransaction(ctx context.Context, transaction *models.ReferralTransaction) error
	TransactionsByCode(ctx context.Context, codeID uuid.UUID) ([]models.ReferralTransaction, error)
	UnrewardedTransactions(ctx context.Context, limit int) ([]models.ReferralTransaction, error)
	FindCodeByID(ctx context.Context, id uuid.UUID) (*models.ReferralCode, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	FindActiveSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, subscription *models.Subscription) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a referrals repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveCodeByUser(ctx context.Context, userID uuid.UUID) (*models.ReferralCode, error) {
	var code models.ReferralCode
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		First(&code).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

func (r *repository) FindCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	return r.findCode(ctx, r.db.WithContext(ctx), code)
}

func (r *repository) FindCodeByCodeForUpdate(ctx context.Context, code string) (*models.ReferralCode, error) {
	query := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findCode(ctx, query, code)
}

func (r *repository) findCode(ctx context.Context, query *gorm.DB, code string) (*models.ReferralCode, error) {
	var record models.ReferralCode
	if err := query.Where("code = ?", code).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) CreateCode(ctx context.Context, code *models.ReferralCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *repository) SaveCode(ctx context.Context, code *models.ReferralCode) error {
	return r.db.WithContext(ctx).Save(code).Error
}

func (r *repository) CodesByUser(ctx context.Context, userID uuid.UUID) ([]models.ReferralCode, error) {
	var codes []models.ReferralCode
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&codes).Error
	return codes, err
}

func (r *repository) HasTransactionForUser(ctx context.Context, referredUserID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReferralTransaction{}).
		Where("referred_user_id = ?", referredUserID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.ReferralTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) SaveTransaction(ctx context.Context, transaction *models.ReferralTransaction) error {
	return r.db.WithContext(ctx).Save(transaction).Error
}

func (r *repository) TransactionsByCode(ctx context.Context, codeID uuid.UUID) ([]models.ReferralTransaction, error) {
	var transactions []models.ReferralTransaction
	err := r.db.WithContext(ctx).
		Where("referral_code_id = ?", codeID).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *repository) UnrewardedTransactions(ctx context.Context, limit int) ([]models.ReferralTransaction, error) {
	var transactions []models.ReferralTransaction
	err := r.db.WithContext(ctx).
		Where("referrer_rewarded = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (r *repository) FindCodeByID(ctx context.Context, id uuid.UUID) (*models.ReferralCode, error) {
	var code models.ReferralCode
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&code).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

func (r *repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) SaveUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *repository) FindActiveSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Order("end_date DESC").
		First(&subscription).Error; err != nil {
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

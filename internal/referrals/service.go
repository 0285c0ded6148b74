package referrals

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/subhubhq/subhub-backend/pkg/db"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
	"github.com/subhubhq/subhub-backend/pkg/outbox/payloads"
)

const (
	codeLength       = 8
	codeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts  = 10
	freeMonthDays    = 30
	statsCacheTTL    = 5 * time.Minute
	statsCachePrefix = "referral_stats"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Emitter queues domain events through the transactional outbox.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StatsCache is a best-effort read cache for referral stats.
type StatsCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(parts ...string) string
}

// ServiceParams carries the dependencies for NewService. Cache is optional.
type ServiceParams struct {
	Repo   Repository
	Tx     TxRunner
	Outbox Emitter
	Cache  StatsCache
	Logger *logger.Logger
}

// Service generates referral codes, applies them, and grants rewards.
type Service struct {
	repo   Repository
	tx     TxRunner
	outbox Emitter
	cache  StatsCache
	log    *logger.Logger
	now    func() time.Time
}

// NewService validates its dependencies and returns a referrals service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("referrals: repository is required")
	}
	if params.Tx == nil {
		return nil, errors.New("referrals: transaction runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("referrals: outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, errors.New("referrals: logger is required")
	}
	return &Service{
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		cache:  params.Cache,
		log:    params.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// GenerateCode returns the user's active referral code, creating one with a
// fresh random code when none exists. Collisions with the unique code index
// are retried with a new candidate.
func (s *Service) GenerateCode(ctx context.Context, userID uuid.UUID, rewardType enums.ReferralRewardType, rewardAmount decimal.Decimal) (*models.ReferralCode, error) {
	if !rewardType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid reward type %q", rewardType)
	}
	if rewardAmount.LessThan(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Reward amount must not be negative.")
	}

	existing, err := s.repo.FindActiveCodeByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up referral code")
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate, err := randomCode(codeLength)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating referral code")
		}
		code := &models.ReferralCode{
			UserID:       userID,
			Code:         candidate,
			RewardType:   rewardType,
			RewardAmount: rewardAmount,
			IsActive:     true,
		}
		if err := s.repo.CreateCode(ctx, code); err != nil {
			if dbpkg.IsUniqueViolation(err) {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating referral code")
		}
		s.log.Info(s.log.WithField(ctx, "referral_code", code.Code), "referral code generated")
		return code, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not generate a unique referral code")
}

// Application is the result of a successful referral.
type Application struct {
	ReferralCodeID uuid.UUID                `json:"referral_code_id"`
	ReferrerUserID uuid.UUID                `json:"referrer_user_id"`
	RewardType     enums.ReferralRewardType `json:"reward_type"`
	RewardAmount   decimal.Decimal          `json:"reward_amount"`
}

// ApplyCode redeems a referral code for a newly referred user. A user can
// be referred at most once ever; self-referral always fails. The counter
// increment, the transaction row, and the reward side effects share one
// database transaction under a row lock on the code.
func (s *Service) ApplyCode(ctx context.Context, code string, newUserID uuid.UUID) (*Application, error) {
	var application *Application
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		record, err := repo.FindCodeByCodeForUpdate(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading referral code")
		}
		if record == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "Invalid referral code.")
		}
		if record.UserID == newUserID {
			return pkgerrors.New(pkgerrors.CodeValidation, "You cannot use your own referral code.")
		}
		if !record.Usable(s.now()) {
			if record.MaxUses > 0 && record.CurrentUses >= record.MaxUses {
				return pkgerrors.New(pkgerrors.CodeConflict, "Referral code usage limit reached.")
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "Referral code is not active.")
		}

		referred, err := repo.HasTransactionForUser(ctx, newUserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking referral history")
		}
		if referred {
			return pkgerrors.New(pkgerrors.CodeConflict, "You have already used a referral code.")
		}

		record.CurrentUses++
		if err := repo.SaveCode(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "incrementing referral uses")
		}

		transaction := &models.ReferralTransaction{
			ReferralCodeID:       record.ID,
			ReferredUserID:       newUserID,
			ReferrerRewardAmount: record.RewardAmount,
			ReferredRewardAmount: record.RewardAmount,
		}
		if err := s.grantRewards(ctx, repo, record, transaction, newUserID); err != nil {
			return err
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			if dbpkg.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "You have already used a referral code.")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording referral")
		}

		if transaction.ReferrerRewarded {
			event := outbox.DomainEvent{
				EventType:     enums.OutboxEventReferralRewardGranted,
				AggregateType: enums.OutboxAggregateReferral,
				AggregateID:   record.ID,
				Data: payloads.ReferralRewardGrantedEvent{
					ReferralCodeID: record.ID,
					ReferrerUserID: record.UserID,
					ReferredUserID: newUserID,
					RewardType:     record.RewardType,
					RewardAmount:   record.RewardAmount,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing reward event")
			}
		}

		application = &Application{
			ReferralCodeID: record.ID,
			ReferrerUserID: record.UserID,
			RewardType:     record.RewardType,
			RewardAmount:   record.RewardAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"referral_code_id": application.ReferralCodeID.String(),
		"referred_user_id": newUserID.String(),
	}), "referral applied")
	return application, nil
}

// grantRewards applies the immediate reward side effects. Credit adjusts
// both balances; free_month extends the referrer's active subscription.
// Discount and feature_unlock rewards stay pending until the reward sweep
// picks them up.
func (s *Service) grantRewards(ctx context.Context, repo Repository, record *models.ReferralCode, transaction *models.ReferralTransaction, newUserID uuid.UUID) error {
	switch record.RewardType {
	case enums.ReferralRewardCredit:
		for _, id := range []uuid.UUID{record.UserID, newUserID} {
			user, err := repo.FindUserByID(ctx, id)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading user for credit")
			}
			if user == nil {
				continue
			}
			user.CreditBalance = user.CreditBalance.Add(record.RewardAmount)
			if err := repo.SaveUser(ctx, user); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "crediting user")
			}
		}
		transaction.ReferrerRewarded = true
		transaction.ReferredRewarded = true
	case enums.ReferralRewardFreeMonth:
		subscription, err := repo.FindActiveSubscriptionByUser(ctx, record.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading referrer subscription")
		}
		if subscription != nil {
			subscription.EndDate = subscription.EndDate.AddDate(0, 0, freeMonthDays)
			if err := repo.SaveSubscription(ctx, subscription); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extending referrer subscription")
			}
			transaction.ReferrerRewarded = true
		}
		transaction.ReferredRewarded = true
	}
	return nil
}

// RewardPendingReferrals grants outstanding referrer rewards in batches.
// Run from the cron worker; each transaction gets its reward event queued
// and is marked rewarded atomically.
func (s *Service) RewardPendingReferrals(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.repo.UnrewardedTransactions(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading pending referrals")
	}

	rewarded := 0
	for i := range pending {
		transaction := pending[i]
		code, err := s.repo.FindCodeByID(ctx, transaction.ReferralCodeID)
		if err != nil {
			return rewarded, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading referral code")
		}
		if code == nil {
			continue
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			transaction.ReferrerRewarded = true
			if err := repo.SaveTransaction(ctx, &transaction); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.OutboxEventReferralRewardGranted,
				AggregateType: enums.OutboxAggregateReferral,
				AggregateID:   code.ID,
				Data: payloads.ReferralRewardGrantedEvent{
					ReferralCodeID: code.ID,
					ReferrerUserID: code.UserID,
					ReferredUserID: transaction.ReferredUserID,
					RewardType:     code.RewardType,
					RewardAmount:   transaction.ReferrerRewardAmount,
				},
			})
		})
		if err != nil {
			return rewarded, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rewarding referral")
		}
		rewarded++
	}
	return rewarded, nil
}

// Stats is the read-only aggregate of a user's referral activity.
type Stats struct {
	UserID        uuid.UUID       `json:"user_id"`
	TotalCodes    int             `json:"total_codes"`
	TotalUses     int             `json:"total_uses"`
	ReferredUsers int             `json:"referred_users"`
	RewardsEarned decimal.Decimal `json:"rewards_earned"`
}

// GetStats aggregates a user's codes, uses, and earned rewards. Results
// are served from cache when available; misses recompute and refresh.
func (s *Service) GetStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.CacheKey(statsCachePrefix, userID.String())
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil && raw != "" {
			var cached Stats
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	codes, err := s.repo.CodesByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading referral codes")
	}

	stats := &Stats{UserID: userID, RewardsEarned: decimal.Zero}
	stats.TotalCodes = len(codes)
	for _, code := range codes {
		stats.TotalUses += code.CurrentUses
		transactions, err := s.repo.TransactionsByCode(ctx, code.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading referral transactions")
		}
		stats.ReferredUsers += len(transactions)
		for _, transaction := range transactions {
			if transaction.ReferrerRewarded {
				stats.RewardsEarned = stats.RewardsEarned.Add(transaction.ReferrerRewardAmount)
			}
		}
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(stats); err == nil {
			_ = s.cache.Set(ctx, cacheKey, string(encoded), statsCacheTTL)
		}
	}
	return stats, nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

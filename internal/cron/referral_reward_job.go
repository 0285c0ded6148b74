package cron

import (
	"context"
	"fmt"

	"github.com/subhubhq/subhub-backend/pkg/logger"
	"gorm.io/gorm"
)

const referralRewardBatch = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type referralRewarder interface {
	RewardPendingReferrals(ctx context.Context, limit int) (int, error)
}

type ReferralRewardJobParams struct {
	Logger    *logger.Logger
	Referrals referralRewarder
	BatchSize int
}

func NewReferralRewardJob(params ReferralRewardJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referrals service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = referralRewardBatch
	}
	return &referralRewardJob{
		logg:      params.Logger,
		referrals: params.Referrals,
		batch:     batch,
	}, nil
}

type referralRewardJob struct {
	logg      *logger.Logger
	referrals referralRewarder
	batch     int
}

func (j *referralRewardJob) Name() string { return "referral-reward" }

// Run drains pending referrer rewards until a batch comes back short,
// meaning no further transactions are waiting.
func (j *referralRewardJob) Run(ctx context.Context) error {
	total := 0
	for {
		rewarded, err := j.referrals.RewardPendingReferrals(ctx, j.batch)
		total += rewarded
		if err != nil {
			return fmt.Errorf("referral reward sweep: %w", err)
		}
		if rewarded < j.batch {
			break
		}
	}
	logCtx := j.logg.WithField(ctx, "rewarded", total)
	j.logg.Info(logCtx, "referral reward sweep complete")
	return nil
}

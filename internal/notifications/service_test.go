package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/pagination"
)

type listRepo struct {
	rows []models.Notification
}

var _ Repository = (*listRepo)(nil)

func (l *listRepo) Create(ctx context.Context, notification *models.Notification) error { return nil }

func (l *listRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Notification, error) {
	out := l.rows
	if cursor != nil {
		var filtered []models.Notification
		for _, row := range out {
			if row.CreatedAt.Before(cursor.CreatedAt) {
				filtered = append(filtered, row)
			}
		}
		out = filtered
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *listRepo) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestListPaginates(t *testing.T) {
	repo := &listRepo{}
	userID := uuid.New()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		repo.rows = append(repo.rows, models.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      enums.NotificationTypeRenewal,
			Title:     "Subscription renewed",
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	service, err := NewService(repo)
	if err != nil {
		t.Fatalf("building service: %v", err)
	}

	page, err := service.List(context.Background(), userID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Notifications) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page.Notifications))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	next, err := service.List(context.Background(), userID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(next.Notifications) != 1 {
		t.Fatalf("expected 1 row, got %d", len(next.Notifications))
	}
	if next.NextCursor != "" {
		t.Fatal("expected no further cursor")
	}
}

func TestListRejectsBadCursor(t *testing.T) {
	service, err := NewService(&listRepo{})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	if _, err := service.List(context.Background(), uuid.New(), pagination.Params{Cursor: "not-base64!"}); err == nil {
		t.Fatal("expected cursor error")
	}
}

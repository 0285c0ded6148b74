package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/pagination"
)

// Service lists a user's notifications with cursor pagination.
type Service struct {
	repo Repository
}

// NewService returns a notifications service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("notifications: repository is required")
	}
	return &Service{repo: repo}, nil
}

// NotificationView is the API shape of a notification row.
type NotificationView struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt string    `json:"created_at"`
}

// ListResult is one page of notifications plus the follow-up cursor.
type ListResult struct {
	Notifications []NotificationView `json:"notifications"`
	NextCursor    string             `json:"next_cursor,omitempty"`
}

// List returns a page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	rows, err := s.repo.ListByUser(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing notifications")
	}

	result := &ListResult{Notifications: make([]NotificationView, 0, len(rows))}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	for _, row := range rows {
		result.Notifications = append(result.Notifications, NotificationView{
			ID:        row.ID,
			Type:      row.Type.String(),
			Title:     row.Title,
			Body:      row.Body,
			CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type notificationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	Create(ctx context.Context, n *models.Notification) error
	MarkRead(ctx context.Context, id string) (*models.Notification, error)
}

type notificationFamilyResolver interface {
	Resolve(ctx context.Context, principal models.Principal) ([]string, error)
}

type notificationAccessGuard interface {
	AuthorizeNotification(ctx context.Context, principal models.Principal, notification *models.Notification) error
}

// BroadcastRequest is an ad hoc admin message to a set of accounts,
// independent of any content item.
type BroadcastRequest struct {
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1"`
	Subject      string   `json:"subject" validate:"required"`
	Message      string   `json:"message" validate:"required"`
}

// NotificationService serves the family-wide notification stream.
//
// A guardian sees the notifications of every account in their resolved
// family and may mark any of them read; accounts outside the family are
// invisible.
type NotificationService struct {
	repo      notificationRepository
	family    notificationFamilyResolver
	access    notificationAccessGuard
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationRepository, family notificationFamilyResolver, access notificationAccessGuard, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, family: family, access: access, validator: validate, logger: logger}
}

// ListForPrincipal returns the principal's family notification stream.
func (s *NotificationService) ListForPrincipal(ctx context.Context, principal models.Principal, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	family, err := s.family.Resolve(ctx, principal)
	if err != nil {
		return nil, nil, err
	}

	notifications, total, err := s.repo.List(ctx, models.NotificationFilter{
		UserIDs:    family,
		UnreadOnly: unreadOnly,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return nil, nil, wrapStore(err, "failed to list notifications")
	}

	pagination := &models.Pagination{Page: normalizePage(page), PageSize: normalizePageSize(pageSize), TotalCount: total}
	return notifications, pagination, nil
}

// MarkRead flips the read flag, provided the notification's owner is
// within the principal's family. Cross-family ids surface as not-found.
func (s *NotificationService) MarkRead(ctx context.Context, id string, principal models.Principal) (*models.Notification, error) {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, wrapStore(err, "failed to load notification")
	}

	if err := s.access.AuthorizeNotification(ctx, principal, notification); err != nil {
		return nil, err
	}

	updated, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, wrapStore(err, "failed to mark notification read")
	}
	return updated, nil
}

// Broadcast writes one notification per recipient outside any content
// item. Admin-only.
func (s *NotificationService) Broadcast(ctx context.Context, req BroadcastRequest, actor models.Principal) (int, error) {
	if actor.Role != models.RoleAdmin {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "only administrators may broadcast")
	}
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	created := 0
	for _, id := range dedupe(req.RecipientIDs) {
		if err := s.repo.Create(ctx, &models.Notification{
			UserID:  id,
			Subject: req.Subject,
			Body:    req.Message,
		}); err != nil {
			return created, wrapStore(err, "failed to create notification")
		}
		created++
	}
	return created, nil
}

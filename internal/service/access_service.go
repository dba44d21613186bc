package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type familyResolver interface {
	Contains(ctx context.Context, principal models.Principal, accountID string) (bool, error)
}

// AccessService decides whether a principal may act on a family-scoped
// resource. Admins bypass family resolution entirely.
//
// For non-admin callers a denial is reported as not-found, so a lookup
// against an account outside the caller's family cannot reveal whether
// the account exists at all.
type AccessService struct {
	family familyResolver
	logger *zap.Logger
}

// NewAccessService constructs the service.
func NewAccessService(family familyResolver, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{family: family, logger: logger}
}

// AuthorizeAccount allows the principal to act on the target account id
// iff the target is an admin-visible resource or a member of the
// principal's resolved family.
func (s *AccessService) AuthorizeAccount(ctx context.Context, principal models.Principal, targetAccountID string) error {
	if principal.Role == models.RoleAdmin {
		return nil
	}

	ok, err := s.family.Contains(ctx, principal, targetAccountID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug("family-scope denial",
			zap.String("principal_id", principal.ID),
			zap.String("target_id", targetAccountID),
		)
		return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
	}
	return nil
}

// AuthorizeNotification allows the principal to act on a notification
// iff its owner is within the principal's resolved family.
func (s *AccessService) AuthorizeNotification(ctx context.Context, principal models.Principal, notification *models.Notification) error {
	if notification == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return s.AuthorizeAccount(ctx, principal, notification.UserID)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/jobs"
	"github.com/noah-isme/academy-portal-api/pkg/mailer"
)

type distributionContentRepository interface {
	AssignRecipients(ctx context.Context, variant models.ContentVariant, contentID string, recipientIDs []string, notifications []models.Notification) error
}

type distributionAccountRepository interface {
	FindLiveByIDs(ctx context.Context, ids []string) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type mailEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type feedInvalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

// AssignRequest targets a content item at a set of recipients.
type AssignRequest struct {
	ContentID    string                `json:"content_id" validate:"required"`
	Variant      models.ContentVariant `json:"variant" validate:"required"`
	RecipientIDs []string              `json:"recipient_ids" validate:"required,min=1"`
	Subject      string                `json:"subject" validate:"required"`
	Message      string                `json:"message" validate:"required"`
}

// AssignResult reports how many notifications one broadcast produced.
type AssignResult struct {
	NotifiedCount int `json:"notified_count"`
}

// DistributionService assigns content to recipients and fans out the
// per-recipient notification records.
//
// The recipient-set union and the notification inserts form one atomic
// unit; mail dispatch rides on the job queue afterwards and never
// affects the operation's outcome. Re-broadcasting to an
// already-assigned recipient leaves the recipient set unchanged but
// produces a fresh notification wave: "remind again" is an intentional
// operation, not an error.
type DistributionService struct {
	content   distributionContentRepository
	accounts  distributionAccountRepository
	mailQueue mailEnqueuer
	feedCache feedInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDistributionService constructs the service. mailQueue and
// feedCache may be nil; both are best-effort collaborators.
func NewDistributionService(content distributionContentRepository, accounts distributionAccountRepository, mailQueue mailEnqueuer, feedCache feedInvalidator, validate *validator.Validate, logger *zap.Logger) *DistributionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributionService{
		content:   content,
		accounts:  accounts,
		mailQueue: mailQueue,
		feedCache: feedCache,
		validator: validate,
		logger:    logger,
	}
}

// Assign adds recipients to a content item and notifies each of them
// exactly once per broadcast.
func (s *DistributionService) Assign(ctx context.Context, req AssignRequest, actor models.Principal) (*AssignResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may distribute content")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assign payload")
	}
	if !models.KnownContentVariant(req.Variant) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content variant %q", req.Variant))
	}

	recipientIDs := dedupe(req.RecipientIDs)

	liveAccounts, err := s.accounts.FindLiveByIDs(ctx, recipientIDs)
	if err != nil {
		return nil, wrapStore(err, "failed to load recipients")
	}

	link := feedLink(req.Variant, req.ContentID)
	notifications := make([]models.Notification, 0, len(liveAccounts))
	for _, account := range liveAccounts {
		notifications = append(notifications, models.Notification{
			ID:      uuid.NewString(),
			UserID:  account.ID,
			Subject: req.Subject,
			Body:    req.Message,
			Link:    &link,
		})
	}

	if err := s.content.AssignRecipients(ctx, req.Variant, req.ContentID, recipientIDs, notifications); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content item not found")
		}
		return nil, wrapStore(err, "failed to assign recipients")
	}

	s.dispatchMail(liveAccounts, req.Subject, req.Message)
	s.invalidateFeeds(ctx, req.Variant, recipientIDs)
	s.recordAudit(ctx, req, actor, len(notifications))

	return &AssignResult{NotifiedCount: len(notifications)}, nil
}

// dispatchMail enqueues one best-effort mail per recipient. Failures
// are logged and never propagated; the broadcast already committed.
func (s *DistributionService) dispatchMail(accounts []models.User, subject, message string) {
	if s.mailQueue == nil {
		return
	}
	for _, account := range accounts {
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: "broadcast_mail",
			Payload: mailer.Message{
				ToName:    account.FullName,
				ToAddress: account.Email,
				Subject:   subject,
				HTMLBody:  fmt.Sprintf("<p>%s</p>", message),
			},
		}
		if err := s.mailQueue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue broadcast mail",
				zap.String("recipient", account.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *DistributionService) invalidateFeeds(ctx context.Context, variant models.ContentVariant, recipientIDs []string) {
	if s.feedCache == nil {
		return
	}
	keys := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		keys = append(keys, feedCacheKey(id, variant))
	}
	if err := s.feedCache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate feed cache", zap.Error(err))
	}
}

func (s *DistributionService) recordAudit(ctx context.Context, req AssignRequest, actor models.Principal, notified int) {
	payload, _ := json.Marshal(map[string]interface{}{
		"variant":    req.Variant,
		"recipients": len(req.RecipientIDs),
		"notified":   notified,
	})
	if err := s.accounts.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionContentAssign,
		Resource:   strings.ToLower(string(req.Variant)),
		ResourceID: &req.ContentID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record assign audit log", zap.Error(err))
	}
}

func feedLink(variant models.ContentVariant, contentID string) string {
	return fmt.Sprintf("/%s/%s", strings.ToLower(variant.TableName()), contentID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

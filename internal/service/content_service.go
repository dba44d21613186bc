package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type contentRepository interface {
	GetByID(ctx context.Context, variant models.ContentVariant, id string) (*models.ContentItem, error)
	List(ctx context.Context, filter models.ContentFilter) ([]models.ContentItem, int, error)
	ListForRecipients(ctx context.Context, variant models.ContentVariant, accountIDs []string) ([]models.ContentItem, error)
	Create(ctx context.Context, item *models.ContentItem) error
}

type feedCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CreateContentRequest payload for creating a content item.
type CreateContentRequest struct {
	Variant  models.ContentVariant `json:"variant" validate:"required"`
	Title    string                `json:"title" validate:"required"`
	Body     string                `json:"body" validate:"required"`
	OccursOn *time.Time            `json:"occurs_on"`
}

// ContentService owns the four content variants: admin CRUD plus the
// per-user feed.
//
// The feed is cached in Redis with a short TTL and busted on
// assignment. Only the rendered item list is cached; family resolution
// itself always runs against live data.
type ContentService struct {
	repo      contentRepository
	family    notificationFamilyResolver
	cache     feedCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContentService constructs the service. cache may be nil.
func NewContentService(repo contentRepository, family notificationFamilyResolver, cache feedCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ContentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ContentService{repo: repo, family: family, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create adds a new, untargeted content item.
func (s *ContentService) Create(ctx context.Context, req CreateContentRequest, actor models.Principal) (*models.ContentItem, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may create content")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid content payload")
	}
	if !models.KnownContentVariant(req.Variant) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content variant %q", req.Variant))
	}

	item := &models.ContentItem{
		Variant:   req.Variant,
		Title:     req.Title,
		Body:      req.Body,
		OccursOn:  req.OccursOn,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, wrapStore(err, "failed to create content item")
	}
	return item, nil
}

// Get returns one content item.
func (s *ContentService) Get(ctx context.Context, variant models.ContentVariant, id string) (*models.ContentItem, error) {
	if !models.KnownContentVariant(variant) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content variant %q", variant))
	}
	item, err := s.repo.GetByID(ctx, variant, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content item not found")
		}
		return nil, wrapStore(err, "failed to load content item")
	}
	return item, nil
}

// List returns content items of one variant for admin views.
func (s *ContentService) List(ctx context.Context, filter models.ContentFilter) ([]models.ContentItem, *models.Pagination, error) {
	if !models.KnownContentVariant(filter.Variant) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content variant %q", filter.Variant))
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapStore(err, "failed to list content items")
	}
	pagination := &models.Pagination{Page: normalizePage(filter.Page), PageSize: normalizePageSize(filter.PageSize), TotalCount: total}
	return items, pagination, nil
}

// Feed returns the content items visible to the principal's family:
// items targeting any family member plus untargeted items. The bool
// reports whether the result came from cache.
func (s *ContentService) Feed(ctx context.Context, principal models.Principal, variant models.ContentVariant) ([]models.ContentItem, bool, error) {
	if !models.KnownContentVariant(variant) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content variant %q", variant))
	}

	key := feedCacheKey(principal.ID, variant)
	if s.cache != nil {
		var cached []models.ContentItem
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, true, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("feed cache read failed", zap.Error(err))
		}
	}

	family, err := s.family.Resolve(ctx, principal)
	if err != nil {
		return nil, false, err
	}

	items, err := s.repo.ListForRecipients(ctx, variant, family)
	if err != nil {
		return nil, false, wrapStore(err, "failed to load content feed")
	}
	if items == nil {
		items = []models.ContentItem{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, items, s.cacheTTL); err != nil {
			s.logger.Warn("feed cache write failed", zap.Error(err))
		}
	}
	return items, false, nil
}

func feedCacheKey(userID string, variant models.ContentVariant) string {
	return fmt.Sprintf("feed:%s:%s", userID, strings.ToLower(string(variant)))
}

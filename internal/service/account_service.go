package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/repository"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type accountRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDAnyState(ctx context.Context, id string) (*models.User, error)
	EmailHolder(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	PermanentDelete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RegisterRequest represents payload for creating accounts.
type RegisterRequest struct {
	Email        string          `json:"email" validate:"required,email"`
	FullName     string          `json:"full_name" validate:"required"`
	Password     string          `json:"password" validate:"required,min=6"`
	Role         models.UserRole `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT"`
	GuardianName *string         `json:"guardian_name"`
	Phone        *string         `json:"phone"`
	Courses      []string        `json:"courses"`
}

// UpdateAccountRequest payload for updating account profiles. Role is
// immutable and deliberately absent.
type UpdateAccountRequest struct {
	Email        string   `json:"email" validate:"required,email"`
	FullName     string   `json:"full_name" validate:"required"`
	GuardianName *string  `json:"guardian_name"`
	Phone        *string  `json:"phone"`
	Courses      []string `json:"courses"`
}

// AccountService handles registration and account administration.
//
// Deletion is staged: a soft-deleted account drops out of every normal
// query but keeps its email lock until restored or permanently removed,
// so re-registration with a trashed email is a conflict, never a silent
// collision.
type AccountService struct {
	repo      accountRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAccountService creates an instance of AccountService.
func NewAccountService(repo accountRepository, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, validator: validate, logger: logger}
}

// Register creates a new account.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	holder, err := s.repo.EmailHolder(ctx, req.Email)
	if err == nil {
		if holder.Active() {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "email belongs to a deleted account; restore it instead of re-registering")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapStore(err, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		FullName:     req.FullName,
		Role:         req.Role,
		GuardianName: req.GuardianName,
		Phone:        req.Phone,
		Courses:      req.Courses,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, wrapStore(err, "failed to create account")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record registration audit log", zap.Error(err))
	}

	return user, nil
}

// Get returns a live account by ID.
func (s *AccountService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, wrapStore(err, "failed to load account")
	}
	return user, nil
}

// List returns paginated accounts and pagination metadata.
func (s *AccountService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapStore(err, "failed to list accounts")
	}
	pagination := &models.Pagination{Page: normalizePage(filter.Page), PageSize: normalizePageSize(filter.PageSize), TotalCount: total}
	return users, pagination, nil
}

// Update modifies profile fields of a live account. Changing the email
// immediately changes family membership, since families are computed
// from live emails on every resolution.
func (s *AccountService) Update(ctx context.Context, id string, req UpdateAccountRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, wrapStore(err, "failed to load account")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "full_name": user.FullName})

	user.Email = strings.ToLower(req.Email)
	user.FullName = req.FullName
	user.GuardianName = req.GuardianName
	user.Phone = req.Phone
	user.Courses = req.Courses

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, wrapStore(err, "failed to update account")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "full_name": user.FullName})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record update audit log", zap.Error(err))
	}

	return user, nil
}

// SoftDelete moves an account to the trash.
func (s *AccountService) SoftDelete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return wrapStore(err, "failed to delete account")
	}
	s.audit(ctx, models.AuditActionUserDelete, id, actorID, meta)
	return nil
}

// Restore returns a trashed account to the live state.
func (s *AccountService) Restore(ctx context.Context, id string, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.repo.Restore(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no deleted account with this id")
		}
		return nil, wrapStore(err, "failed to restore account")
	}
	s.audit(ctx, models.AuditActionUserRestore, id, actorID, meta)
	return s.Get(ctx, id)
}

// PermanentDelete removes a trashed account for good. A live account
// cannot be purged directly; it must pass through the trash first.
func (s *AccountService) PermanentDelete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	user, err := s.repo.FindByIDAnyState(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return wrapStore(err, "failed to load account")
	}
	if user.Active() {
		return appErrors.Clone(appErrors.ErrValidation, "account must be soft-deleted before permanent removal")
	}

	if err := s.repo.PermanentDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return wrapStore(err, "failed to permanently delete account")
	}
	s.audit(ctx, models.AuditActionUserPurge, id, actorID, meta)
	return nil
}

func (s *AccountService) audit(ctx context.Context, action, resourceID, actorID string, meta models.RequestMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

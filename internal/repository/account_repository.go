package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

const accountColumns = `id, email, password_hash, full_name, role, guardian_name, phone, courses, last_login, deleted_at, created_at, updated_at`

// AccountRepository provides database access for portal accounts.
type AccountRepository struct {
	db *sqlx.DB
	instrumented
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithMetrics attaches a query-timing observer and returns the
// repository for chaining.
func (r *AccountRepository) WithMetrics(m queryObserver) *AccountRepository {
	r.metrics = m
	return r
}

// FindByID returns a live account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	defer r.observe("account_find_by_id", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 AND deleted_at IS NULL LIMIT 1`, accountColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &user, nil
}

// FindByIDAnyState returns an account regardless of deletion state.
func (r *AccountRepository) FindByIDAnyState(ctx context.Context, id string) (*models.User, error) {
	defer r.observe("account_find_by_id_any_state", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, accountColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id any state: %w", err)
	}
	return &user, nil
}

// FindByEmail returns a live account by email address.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.observe("account_find_by_email", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL LIMIT 1`, accountColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &user, nil
}

// EmailHolder reports the account currently occupying an email address,
// including soft-deleted accounts, which keep their email lock while in
// the trash.
func (r *AccountRepository) EmailHolder(ctx context.Context, email string) (*models.User, error) {
	defer r.observe("account_email_holder", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`, accountColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find email holder: %w", err)
	}
	return &user, nil
}

// ListStudentsByEmailDomain returns all live student accounts whose
// email domain matches. Family grouping over the result happens in the
// service layer, which normalizes local parts in Go.
func (r *AccountRepository) ListStudentsByEmailDomain(ctx context.Context, domain string) ([]models.User, error) {
	defer r.observe("account_list_students_by_email_domain", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE role = $1 AND deleted_at IS NULL AND LOWER(split_part(email, '@', 2)) = LOWER($2)`, accountColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, models.RoleStudent, domain); err != nil {
		return nil, fmt.Errorf("list students by email domain: %w", err)
	}
	return users, nil
}

// FindLiveByIDs returns the subset of ids that resolve to live accounts.
func (r *AccountRepository) FindLiveByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer r.observe("account_find_live_by_ids", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = ANY($1) AND deleted_at IS NULL`, accountColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find live accounts by ids: %w", err)
	}
	return users, nil
}

// ListBillableStudents returns live students enrolled in at least one course.
func (r *AccountRepository) ListBillableStudents(ctx context.Context) ([]models.User, error) {
	defer r.observe("account_list_billable_students", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM users WHERE role = $1 AND deleted_at IS NULL AND cardinality(courses) > 0 ORDER BY created_at`, accountColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, models.RoleStudent); err != nil {
		return nil, fmt.Errorf("list billable students: %w", err)
	}
	return users, nil
}

// List returns accounts based on filters with total count. Soft-deleted
// rows are excluded unless the filter asks for the trash view.
func (r *AccountRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	defer r.observe("account_list", time.Now())
	baseQuery := `FROM users WHERE deleted_at IS NULL`
	if filter.Deleted {
		baseQuery = `FROM users WHERE deleted_at IS NOT NULL`
	}
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Course != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(courses)", len(args)+1))
		args = append(args, filter.Course)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"created_at": true,
		"updated_at": true,
		"full_name":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", accountColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	return users, total, nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, user *models.User) error {
	defer r.observe("account_create", time.Now())
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Courses == nil {
		user.Courses = []string{}
	}

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, guardian_name, phone, courses, created_at, updated_at)
                VALUES (:id, :email, :password_hash, :full_name, :role, :guardian_name, :phone, :courses, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if dup := translateUnique(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Update updates mutable profile fields. Role is immutable after creation.
func (r *AccountRepository) Update(ctx context.Context, user *models.User) error {
	defer r.observe("account_update", time.Now())
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET email = :email, full_name = :full_name, guardian_name = :guardian_name, phone = :phone, courses = :courses, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if dup := translateUnique(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete moves a live account to the trash. The row keeps its email.
func (r *AccountRepository) SoftDelete(ctx context.Context, id string) error {
	defer r.observe("account_soft_delete", time.Now())
	const query = `UPDATE users SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Restore returns a trashed account to the live state.
func (r *AccountRepository) Restore(ctx context.Context, id string) error {
	defer r.observe("account_restore", time.Now())
	const query = `UPDATE users SET deleted_at = NULL, updated_at = $2 WHERE id = $1 AND deleted_at IS NOT NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("restore account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PermanentDelete removes a trashed account for good. Live accounts
// must be soft-deleted first.
func (r *AccountRepository) PermanentDelete(ctx context.Context, id string) error {
	defer r.observe("account_permanent_delete", time.Now())
	const query = `DELETE FROM users WHERE id = $1 AND deleted_at IS NOT NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("permanent delete account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an account.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	defer r.observe("account_update_last_login", time.Now())
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	defer r.observe("account_update_password", time.Now())
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *AccountRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	defer r.observe("account_create_refresh_token", time.Now())
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent)
                VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *AccountRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	defer r.observe("account_find_refresh_token", time.Now())
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *AccountRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	defer r.observe("account_revoke_refresh_token", time.Now())
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for an account.
func (r *AccountRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	defer r.observe("account_revoke_user_refresh_tokens", time.Now())
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *AccountRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	defer r.observe("account_create_audit_log", time.Now())
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
                VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

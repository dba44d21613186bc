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

const contentColumns = `id, title, body, occurs_on, recipients, created_by, created_at, updated_at`

// ContentRepository provides database access for the four content
// variants (events, notices, grade exams, book materials). The variants
// share one row shape, so one repository serves them all; the variant
// selects the backing table.
type ContentRepository struct {
	db *sqlx.DB
	instrumented
}

// NewContentRepository creates a new instance of ContentRepository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// WithMetrics attaches a query-timing observer and returns the
// repository for chaining.
func (r *ContentRepository) WithMetrics(m queryObserver) *ContentRepository {
	r.metrics = m
	return r
}

func contentTable(variant models.ContentVariant) (string, error) {
	table := variant.TableName()
	if table == "" {
		return "", fmt.Errorf("unknown content variant %q", variant)
	}
	return table, nil
}

// GetByID returns one content item.
func (r *ContentRepository) GetByID(ctx context.Context, variant models.ContentVariant, id string) (*models.ContentItem, error) {
	table, err := contentTable(variant)
	if err != nil {
		return nil, err
	}
	defer r.observe("content_get_by_id", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 LIMIT 1`, contentColumns, table)
	var item models.ContentItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get %s by id: %w", table, err)
	}
	item.Variant = variant
	return &item, nil
}

// List returns content items of one variant with total count.
func (r *ContentRepository) List(ctx context.Context, filter models.ContentFilter) ([]models.ContentItem, int, error) {
	table, err := contentTable(filter.Variant)
	if err != nil {
		return nil, 0, err
	}
	defer r.observe("content_list", time.Now())

	baseQuery := fmt.Sprintf(`FROM %s WHERE 1=1`, table)
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", contentColumns, baseQuery, pageSize, offset)

	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", table, err)
	}
	for i := range items {
		items[i].Variant = filter.Variant
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", table, err)
	}

	return items, total, nil
}

// ListForRecipients returns items visible to any of the given account
// ids: items whose recipient set intersects the ids, plus untargeted
// items (empty recipient set means everyone).
func (r *ContentRepository) ListForRecipients(ctx context.Context, variant models.ContentVariant, accountIDs []string) ([]models.ContentItem, error) {
	table, err := contentTable(variant)
	if err != nil {
		return nil, err
	}
	defer r.observe("content_list_for_recipients", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE recipients && $1::text[] OR cardinality(recipients) = 0 ORDER BY created_at DESC`, contentColumns, table)
	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, query, pq.Array(accountIDs)); err != nil {
		return nil, fmt.Errorf("list %s for recipients: %w", table, err)
	}
	for i := range items {
		items[i].Variant = variant
	}
	return items, nil
}

// Create inserts a new content item.
func (r *ContentRepository) Create(ctx context.Context, item *models.ContentItem) error {
	table, err := contentTable(item.Variant)
	if err != nil {
		return err
	}
	defer r.observe("content_create", time.Now())
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Recipients == nil {
		item.Recipients = []string{}
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, title, body, occurs_on, recipients, created_by, created_at, updated_at)
                VALUES (:id, :title, :body, :occurs_on, :recipients, :created_by, :created_at, :updated_at)`, table)
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// AssignRecipients unions recipient ids into the content item's
// recipient set and writes one notification row per entry in
// notifications, all inside a single transaction. Either every write
// lands or none does; in particular, nothing is written when the
// content row does not exist.
func (r *ContentRepository) AssignRecipients(ctx context.Context, variant models.ContentVariant, contentID string, recipientIDs []string, notifications []models.Notification) error {
	table, err := contentTable(variant)
	if err != nil {
		return err
	}
	defer r.observe("content_assign_recipients", time.Now())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign tx: %w", err)
	}

	updateQuery := fmt.Sprintf(`UPDATE %s
                SET recipients = (SELECT COALESCE(array_agg(DISTINCT r), '{}') FROM unnest(recipients || $2::text[]) AS r),
                    updated_at = $3
                WHERE id = $1`, table)
	res, err := tx.ExecContext(ctx, updateQuery, contentID, pq.Array(recipientIDs), time.Now().UTC())
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("union %s recipients: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}

	const insertQuery = `INSERT INTO notifications (id, user_id, subject, body, link, read, created_at)
                VALUES (:id, :user_id, :subject, :body, :link, :read, :created_at)`
	for i := range notifications {
		if notifications[i].ID == "" {
			notifications[i].ID = uuid.NewString()
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, insertQuery, notifications[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign tx: %w", err)
	}
	return nil
}

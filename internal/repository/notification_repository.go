package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

// NotificationRepository provides database access for notifications.
type NotificationRepository struct {
	db *sqlx.DB
	instrumented
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// WithMetrics attaches a query-timing observer and returns the
// repository for chaining.
func (r *NotificationRepository) WithMetrics(m queryObserver) *NotificationRepository {
	r.metrics = m
	return r
}

// GetByID returns one notification.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	defer r.observe("notification_get_by_id", time.Now())
	const query = `SELECT id, user_id, subject, body, link, read, created_at FROM notifications WHERE id = $1 LIMIT 1`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get notification by id: %w", err)
	}
	return &n, nil
}

// List returns notifications for a set of account ids, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	if len(filter.UserIDs) == 0 {
		return nil, 0, nil
	}
	defer r.observe("notification_list", time.Now())

	baseQuery := `FROM notifications WHERE user_id = ANY($1)`
	args := []interface{}{pq.Array(filter.UserIDs)}
	if filter.UnreadOnly {
		baseQuery += ` AND read = FALSE`
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

	listQuery := fmt.Sprintf("SELECT id, user_id, subject, body, link, read, created_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	return notifications, total, nil
}

// Create inserts a single notification outside any broadcast; used by
// ad hoc admin messages.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	defer r.observe("notification_create", time.Now())
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, subject, body, link, read, created_at)
                VALUES (:id, :user_id, :subject, :body, :link, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// MarkRead flips the read flag on.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	defer r.observe("notification_mark_read", time.Now())
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 RETURNING id, user_id, subject, body, link, read, created_at`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

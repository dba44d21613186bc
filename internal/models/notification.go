package models

import "time"

// Notification is a durable per-recipient message record.
//
// It is owned by its recipient; any member of the recipient's resolved
// family may read it or flip the read flag, and nobody else.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	Link      *string   `db:"link" json:"link,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NotificationFilter lists notifications for a set of accounts.
type NotificationFilter struct {
	UserIDs    []string
	UnreadOnly bool
	Page       int
	PageSize   int
}

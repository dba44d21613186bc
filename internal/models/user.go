package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// User represents a portal account stored in the users table.
//
// A guardian is not a separate account: one of the student accounts in a
// family doubles as the guardian identity, and family membership is
// computed from email aliases, never stored (see service.FamilyService).
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Role         UserRole       `db:"role" json:"role"`
	GuardianName *string        `db:"guardian_name" json:"guardian_name,omitempty"`
	Phone        *string        `db:"phone" json:"phone,omitempty"`
	Courses      pq.StringArray `db:"courses" json:"courses"`
	LastLogin    *time.Time     `db:"last_login" json:"last_login,omitempty"`
	DeletedAt    *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account is live (not soft-deleted).
func (u *User) Active() bool {
	return u != nil && u.DeletedAt == nil
}

// UserFilter captures filtering criteria for listing accounts.
type UserFilter struct {
	Role      *UserRole
	Deleted   bool
	Search    string
	Course    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

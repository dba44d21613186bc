package models

import (
	"time"

	"github.com/lib/pq"
)

// ContentVariant identifies one of the broadcastable content kinds.
type ContentVariant string

const (
	ContentVariantEvent    ContentVariant = "EVENT"
	ContentVariantNotice   ContentVariant = "NOTICE"
	ContentVariantExam     ContentVariant = "EXAM"
	ContentVariantMaterial ContentVariant = "MATERIAL"
)

// KnownContentVariant reports whether v is one of the four content kinds.
func KnownContentVariant(v ContentVariant) bool {
	switch v {
	case ContentVariantEvent, ContentVariantNotice, ContentVariantExam, ContentVariantMaterial:
		return true
	}
	return false
}

// TableName returns the backing table for the variant, or "" when unknown.
func (v ContentVariant) TableName() string {
	switch v {
	case ContentVariantEvent:
		return "events"
	case ContentVariantNotice:
		return "notices"
	case ContentVariantExam:
		return "grade_exams"
	case ContentVariantMaterial:
		return "book_materials"
	}
	return ""
}

// ContentItem is the shared shape of the four content tables.
//
// Recipients carries account ids with set semantics: it only ever grows,
// and never holds duplicates. An empty set means the item has not been
// targeted yet and is visible to everyone.
type ContentItem struct {
	ID          string         `db:"id" json:"id"`
	Variant     ContentVariant `db:"-" json:"variant"`
	Title       string         `db:"title" json:"title"`
	Body        string         `db:"body" json:"body"`
	OccursOn    *time.Time     `db:"occurs_on" json:"occurs_on,omitempty"`
	Recipients  pq.StringArray `db:"recipients" json:"recipients"`
	CreatedBy   string         `db:"created_by" json:"created_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// ContentFilter lists content of one variant.
type ContentFilter struct {
	Variant  ContentVariant
	Search   string
	Page     int
	PageSize int
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

func newContentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func contentRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "title", "body", "occurs_on", "recipients", "created_by", "created_at", "updated_at"})
	now := time.Now().UTC()
	for _, id := range ids {
		rows.AddRow(id, "Title "+id, "Body", nil, "{u1}", "admin-1", now, now)
	}
	return rows
}

func TestContentRepositoryAssignRecipientsCommits(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE events`)).
		WithArgs("c1", pq.Array([]string{"u1", "u2"}), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	notifications := []models.Notification{
		{UserID: "u1", Subject: "Sports Day", Body: "See you there"},
		{UserID: "u2", Subject: "Sports Day", Body: "See you there"},
	}
	err := repo.AssignRecipients(context.Background(), models.ContentVariantEvent, "c1", []string{"u1", "u2"}, notifications)
	require.NoError(t, err)

	// Generated ids and timestamps are written back onto the slice.
	assert.NotEmpty(t, notifications[0].ID)
	assert.False(t, notifications[0].CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepositoryAssignRecipientsMissingContentRollsBack(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE events`)).
		WithArgs("ghost", pq.Array([]string{"u1"}), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.AssignRecipients(context.Background(), models.ContentVariantEvent, "ghost", []string{"u1"},
		[]models.Notification{{UserID: "u1", Subject: "s", Body: "b"}})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepositoryAssignRecipientsNotificationFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notices`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.AssignRecipients(context.Background(), models.ContentVariantNotice, "c1", []string{"u1"},
		[]models.Notification{{UserID: "u1", Subject: "s", Body: "b"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepositoryAssignRecipientsUnknownVariant(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	err := repo.AssignRecipients(context.Background(), "PODCAST", "c1", []string{"u1"}, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepositoryListForRecipients(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE recipients && $1::text[] OR cardinality(recipients) = 0 ORDER BY created_at DESC`)).
		WithArgs(pq.Array([]string{"u1", "u2"})).
		WillReturnRows(contentRows("c1", "c2"))

	items, err := repo.ListForRecipients(context.Background(), models.ContentVariantMaterial, []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.ContentVariantMaterial, items[0].Variant)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentRepositoryGetByIDSetsVariant(t *testing.T) {
	db, mock, cleanup := newContentRepoMock(t)
	defer cleanup()
	repo := NewContentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM grade_exams WHERE id = $1 LIMIT 1`)).
		WithArgs("c1").
		WillReturnRows(contentRows("c1"))

	item, err := repo.GetByID(context.Background(), models.ContentVariantExam, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ContentVariantExam, item.Variant)
	require.NoError(t, mock.ExpectationsWereMet())
}

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

func newAccountRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
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

func accountRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "guardian_name", "phone", "courses", "last_login", "deleted_at", "created_at", "updated_at"})
	now := time.Now().UTC()
	for _, id := range ids {
		rows.AddRow(id, id+"@example.com", "hash", "Student "+id, string(models.RoleStudent), nil, nil, "{Math}", nil, nil, now, now)
	}
	return rows
}

func TestAccountRepositoryListStudentsByEmailDomain(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE role = $1 AND deleted_at IS NULL AND LOWER(split_part(email, '@', 2)) = LOWER($2)`)).
		WithArgs(models.RoleStudent, "example.com").
		WillReturnRows(accountRows("u1", "u2"))

	users, err := repo.ListStudentsByEmailDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, pq.StringArray{"Math"}, users[0].Courses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryFindLiveByIDs(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1) AND deleted_at IS NULL`)).
		WithArgs(pq.Array([]string{"u1", "u3"})).
		WillReturnRows(accountRows("u1"))

	users, err := repo.FindLiveByIDs(context.Background(), []string{"u1", "u3"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryFindLiveByIDsEmptyInputSkipsQuery(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	users, err := repo.FindLiveByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositorySoftDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`)).
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryCreateDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pq.Error{Code: uniqueViolationCode})

	err := repo.Create(context.Background(), &models.User{
		Email:        "parent@example.com",
		PasswordHash: "hash",
		FullName:     "Parent",
		Role:         models.RoleStudent,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryRestoreOnlyTouchesTrashedRows(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET deleted_at = NULL, updated_at = $2 WHERE id = $1 AND deleted_at IS NOT NULL`)).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Restore(context.Background(), "u1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryEmailHolderSeesTrashedRows(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	deleted := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "guardian_name", "phone", "courses", "last_login", "deleted_at", "created_at", "updated_at"}).
		AddRow("u1", "parent@example.com", "hash", "Parent", string(models.RoleStudent), nil, nil, "{}", nil, deleted, deleted, deleted)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(email) = LOWER($1) LIMIT 1`)).
		WithArgs("parent@example.com").
		WillReturnRows(rows)

	user, err := repo.EmailHolder(context.Background(), "parent@example.com")
	require.NoError(t, err)
	require.NotNil(t, user.DeletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingQueryObserver struct {
	labels []string
}

func (o *recordingQueryObserver) ObserveDBQuery(label string, duration time.Duration) {
	o.labels = append(o.labels, label)
}

func TestAccountRepositoryReportsQueryTimings(t *testing.T) {
	db, mock, cleanup := newAccountRepoMock(t)
	defer cleanup()
	obs := &recordingQueryObserver{}
	repo := NewAccountRepository(db).WithMetrics(obs)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND deleted_at IS NULL LIMIT 1`)).
		WithArgs("u1").
		WillReturnRows(accountRows("u1"))

	_, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)

	// Empty input short-circuits before the database and is not counted.
	_, err = repo.FindLiveByIDs(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"account_find_by_id"}, obs.labels)
	require.NoError(t, mock.ExpectationsWereMet())
}

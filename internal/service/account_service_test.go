package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type mockAccountRepo struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
	audits  []models.AuditLog
}

func newMockAccountRepo(users ...*models.User) *mockAccountRepo {
	m := &mockAccountRepo{byID: map[string]*models.User{}, byEmail: map[string]*models.User{}}
	for _, u := range users {
		m.byID[u.ID] = u
		m.byEmail[u.Email] = u
	}
	return m
}

func (m *mockAccountRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.byID {
		if filter.Deleted != (u.DeletedAt != nil) {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.byID[id]; ok && u.DeletedAt == nil {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountRepo) FindByIDAnyState(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountRepo) EmailHolder(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountRepo) Create(ctx context.Context, user *models.User) error {
	cp := *user
	m.byID[user.ID] = &cp
	m.byEmail[user.Email] = &cp
	return nil
}

func (m *mockAccountRepo) Update(ctx context.Context, user *models.User) error {
	existing, ok := m.byID[user.ID]
	if !ok || existing.DeletedAt != nil {
		return sql.ErrNoRows
	}
	delete(m.byEmail, existing.Email)
	cp := *user
	m.byID[user.ID] = &cp
	m.byEmail[user.Email] = &cp
	return nil
}

func (m *mockAccountRepo) SoftDelete(ctx context.Context, id string) error {
	u, ok := m.byID[id]
	if !ok || u.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	return nil
}

func (m *mockAccountRepo) Restore(ctx context.Context, id string) error {
	u, ok := m.byID[id]
	if !ok || u.DeletedAt == nil {
		return sql.ErrNoRows
	}
	u.DeletedAt = nil
	return nil
}

func (m *mockAccountRepo) PermanentDelete(ctx context.Context, id string) error {
	u, ok := m.byID[id]
	if !ok || u.DeletedAt == nil {
		return sql.ErrNoRows
	}
	delete(m.byEmail, u.Email)
	delete(m.byID, id)
	return nil
}

func (m *mockAccountRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func registerReq(email string) RegisterRequest {
	return RegisterRequest{
		Email:    email,
		FullName: "New Student",
		Password: "secret123",
		Role:     models.RoleStudent,
		Courses:  []string{"Math"},
	}
}

func TestRegisterHashesPasswordAndAudits(t *testing.T) {
	repo := newMockAccountRepo()
	svc := NewAccountService(repo, nil, zap.NewNop())

	user, err := svc.Register(context.Background(), registerReq("Parent+Alice@Example.com"), "admin-1", models.RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, "parent+alice@example.com", user.Email)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.audits[0].Action)
}

func TestRegisterLiveEmailConflict(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com"})
	svc := NewAccountService(repo, nil, zap.NewNop())

	_, err := svc.Register(context.Background(), registerReq("parent@example.com"), "admin-1", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterTrashedEmailStillConflicts(t *testing.T) {
	deleted := time.Now().UTC()
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com", DeletedAt: &deleted})
	svc := NewAccountService(repo, nil, zap.NewNop())

	_, err := svc.Register(context.Background(), registerReq("parent@example.com"), "admin-1", models.RequestMeta{})
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "deleted account")
}

func TestSoftDeleteThenRestoreRoundTrip(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com"})
	svc := NewAccountService(repo, nil, zap.NewNop())
	meta := models.RequestMeta{}

	require.NoError(t, svc.SoftDelete(context.Background(), "u1", "admin-1", meta))

	// Trashed accounts drop out of normal reads.
	_, err := svc.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	restored, err := svc.Restore(context.Background(), "u1", "admin-1", meta)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
}

func TestRestoreLiveAccountIsNotFound(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com"})
	svc := NewAccountService(repo, nil, zap.NewNop())

	_, err := svc.Restore(context.Background(), "u1", "admin-1", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPermanentDeleteRequiresTrash(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com"})
	svc := NewAccountService(repo, nil, zap.NewNop())
	meta := models.RequestMeta{}

	err := svc.PermanentDelete(context.Background(), "u1", "admin-1", meta)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.SoftDelete(context.Background(), "u1", "admin-1", meta))
	require.NoError(t, svc.PermanentDelete(context.Background(), "u1", "admin-1", meta))

	// The email is free again only after the purge.
	_, err = svc.Register(context.Background(), registerReq("parent@example.com"), "admin-1", meta)
	require.NoError(t, err)
}

func TestUpdateChangesEmail(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com", FullName: "Old"})
	svc := NewAccountService(repo, nil, zap.NewNop())

	user, err := svc.Update(context.Background(), "u1", UpdateAccountRequest{Email: "Parent@Other.org", FullName: "New"}, "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "parent@other.org", user.Email)
	assert.Equal(t, "New", user.FullName)
}

func TestAuditLogsCarryClientMetadata(t *testing.T) {
	repo := newMockAccountRepo(&models.User{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	svc := NewAccountService(repo, nil, zap.NewNop())

	meta := models.RequestMeta{IP: "10.1.2.3", UserAgent: "portal-cli/1.0"}
	require.NoError(t, svc.SoftDelete(context.Background(), "u1", "admin-1", meta))

	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.audits[0].Action)
	assert.Equal(t, "10.1.2.3", repo.audits[0].IPAddress)
	assert.Equal(t, "portal-cli/1.0", repo.audits[0].UserAgent)
}

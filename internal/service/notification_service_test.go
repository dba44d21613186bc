package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type mockNotificationRepo struct {
	byID       map[string]*models.Notification
	lastFilter models.NotificationFilter
	created    []models.Notification
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	if n, ok := m.byID[id]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.lastFilter = filter
	var out []models.Notification
	for _, n := range m.byID {
		for _, id := range filter.UserIDs {
			if n.UserID == id && (!filter.UnreadOnly || !n.Read) {
				out = append(out, *n)
			}
		}
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	m.created = append(m.created, *n)
	return nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	n.Read = true
	cp := *n
	return &cp, nil
}

type mockNotificationAccess struct {
	allowed map[string]bool
}

func (m *mockNotificationAccess) AuthorizeNotification(ctx context.Context, principal models.Principal, notification *models.Notification) error {
	if principal.Role == models.RoleAdmin || m.allowed[notification.UserID] {
		return nil
	}
	return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
}

func newNotificationFixture(allowed map[string]bool, notifications ...*models.Notification) (*NotificationService, *mockNotificationRepo) {
	repo := &mockNotificationRepo{byID: map[string]*models.Notification{}}
	for _, n := range notifications {
		repo.byID[n.ID] = n
	}
	family := &mockContentFamilyResolver{family: keysOf(allowed)}
	access := &mockNotificationAccess{allowed: allowed}
	return NewNotificationService(repo, family, access, nil, zap.NewNop()), repo
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestListForPrincipalQueriesWholeFamily(t *testing.T) {
	svc, repo := newNotificationFixture(map[string]bool{"u1": true},
		&models.Notification{ID: "n1", UserID: "u1"},
	)

	_, pagination, err := svc.ListForPrincipal(context.Background(), models.Principal{ID: "u1", Role: models.RoleStudent}, false, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, repo.lastFilter.UserIDs)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestMarkReadWithinFamily(t *testing.T) {
	svc, repo := newNotificationFixture(map[string]bool{"u1": true, "u2": true},
		&models.Notification{ID: "n1", UserID: "u2"},
	)

	updated, err := svc.MarkRead(context.Background(), "n1", models.Principal{ID: "u1", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.True(t, updated.Read)
	assert.True(t, repo.byID["n1"].Read)
}

func TestMarkReadOutsideFamilyMasksAsNotFound(t *testing.T) {
	svc, repo := newNotificationFixture(map[string]bool{"u1": true},
		&models.Notification{ID: "n1", UserID: "stranger"},
	)

	_, err := svc.MarkRead(context.Background(), "n1", models.Principal{ID: "u1", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.byID["n1"].Read)
}

func TestMarkReadMissingNotification(t *testing.T) {
	svc, _ := newNotificationFixture(map[string]bool{"u1": true})

	_, err := svc.MarkRead(context.Background(), "ghost", models.Principal{ID: "u1", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBroadcastRequiresAdmin(t *testing.T) {
	svc, _ := newNotificationFixture(map[string]bool{})

	_, err := svc.Broadcast(context.Background(), BroadcastRequest{RecipientIDs: []string{"u1"}, Subject: "s", Message: "m"}, models.Principal{ID: "t1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBroadcastDedupesRecipients(t *testing.T) {
	svc, repo := newNotificationFixture(map[string]bool{})

	created, err := svc.Broadcast(context.Background(), BroadcastRequest{RecipientIDs: []string{"u1", "u1", "u2"}, Subject: "s", Message: "m"}, models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Len(t, repo.created, 2)
}

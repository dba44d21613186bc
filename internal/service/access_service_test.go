package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type mockFamilyResolver struct {
	members map[string]bool
	err     error
}

func (m *mockFamilyResolver) Contains(ctx context.Context, principal models.Principal, accountID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[accountID], nil
}

func TestAuthorizeAccountAdminBypass(t *testing.T) {
	family := &mockFamilyResolver{err: errors.New("must not be called")}
	svc := NewAccessService(family, zap.NewNop())

	err := svc.AuthorizeAccount(context.Background(), models.Principal{ID: "a", Role: models.RoleAdmin}, "anyone")
	require.NoError(t, err)
}

func TestAuthorizeAccountFamilyMember(t *testing.T) {
	family := &mockFamilyResolver{members: map[string]bool{"u2": true}}
	svc := NewAccessService(family, zap.NewNop())

	err := svc.AuthorizeAccount(context.Background(), models.Principal{ID: "u1", Role: models.RoleStudent}, "u2")
	require.NoError(t, err)
}

func TestAuthorizeAccountDenialMasksAsNotFound(t *testing.T) {
	family := &mockFamilyResolver{members: map[string]bool{}}
	svc := NewAccessService(family, zap.NewNop())

	err := svc.AuthorizeAccount(context.Background(), models.Principal{ID: "u1", Role: models.RoleStudent}, "stranger")
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrNotFound.Status, appErr.Status)
}

func TestAuthorizeNotification(t *testing.T) {
	family := &mockFamilyResolver{members: map[string]bool{"u2": true}}
	svc := NewAccessService(family, zap.NewNop())
	principal := models.Principal{ID: "u1", Role: models.RoleStudent}

	require.NoError(t, svc.AuthorizeNotification(context.Background(), principal, &models.Notification{UserID: "u2"}))

	err := svc.AuthorizeNotification(context.Background(), principal, &models.Notification{UserID: "u9"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.AuthorizeNotification(context.Background(), principal, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

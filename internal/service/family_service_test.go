package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type mockFamilyAccountRepo struct {
	students map[string][]models.User
	err      error
}

func (m *mockFamilyAccountRepo) ListStudentsByEmailDomain(ctx context.Context, domain string) ([]models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.students[domain], nil
}

func student(id, email string) models.User {
	return models.User{ID: id, Email: email, Role: models.RoleStudent}
}

func TestSplitEmail(t *testing.T) {
	cases := []struct {
		in     string
		base   string
		domain string
		ok     bool
	}{
		{"parent@example.com", "parent", "example.com", true},
		{"parent+alice@example.com", "parent", "example.com", true},
		{"PARENT+Bob@Example.COM", "parent", "example.com", true},
		{"parent+a+b@example.com", "parent", "example.com", true},
		{"no-at-sign", "", "", false},
		{"@example.com", "", "", false},
		{"parent@", "", "", false},
	}
	for _, tc := range cases {
		base, domain, ok := SplitEmail(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.base, base, tc.in)
		assert.Equal(t, tc.domain, domain, tc.in)
	}
}

func TestFamilyResolveGroupsAliases(t *testing.T) {
	repo := &mockFamilyAccountRepo{students: map[string][]models.User{
		"example.com": {
			student("u1", "parent@example.com"),
			student("u2", "parent+alice@example.com"),
			student("u3", "PARENT+bob@EXAMPLE.com"),
			student("u4", "other@example.com"),
		},
	}}
	svc := NewFamilyService(repo, zap.NewNop())

	family, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, family)
}

func TestFamilyResolveFromAliasedPrincipal(t *testing.T) {
	// Logging in as a "+child" alias must land in the same family as
	// logging in as the base guardian account.
	repo := &mockFamilyAccountRepo{students: map[string][]models.User{
		"example.com": {
			student("u1", "parent@example.com"),
			student("u2", "parent+alice@example.com"),
			student("u3", "parent+bob@example.com"),
			student("u4", "other@example.com"),
		},
	}}
	svc := NewFamilyService(repo, zap.NewNop())

	fromAlias, err := svc.Resolve(context.Background(), models.Principal{ID: "u2", Email: "parent+alice@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, fromAlias)

	fromBase, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, fromBase, fromAlias)
}

func TestFamilyResolveSameBaseDifferentDomain(t *testing.T) {
	repo := &mockFamilyAccountRepo{students: map[string][]models.User{
		"example.com": {
			student("u1", "parent@example.com"),
		},
		"other.org": {
			student("u9", "parent@other.org"),
		},
	}}
	svc := NewFamilyService(repo, zap.NewNop())

	family, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, family)
}

func TestFamilyResolveNonStudentIsSingleton(t *testing.T) {
	repo := &mockFamilyAccountRepo{err: errors.New("must not be called")}
	svc := NewFamilyService(repo, zap.NewNop())

	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleTeacher} {
		family, err := svc.Resolve(context.Background(), models.Principal{ID: "x", Email: "parent@example.com", Role: role})
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, family)
	}
}

func TestFamilyResolveMalformedEmailIsSingleton(t *testing.T) {
	repo := &mockFamilyAccountRepo{err: errors.New("must not be called")}
	svc := NewFamilyService(repo, zap.NewNop())

	family, err := svc.Resolve(context.Background(), models.Principal{ID: "x", Email: "not-an-email", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, family)
}

func TestFamilyResolveAlwaysContainsPrincipal(t *testing.T) {
	// The principal's row may be missing from the candidate list, e.g.
	// mid-transaction; membership must still include the caller.
	repo := &mockFamilyAccountRepo{students: map[string][]models.User{
		"example.com": {
			student("u2", "parent+alice@example.com"),
		},
	}}
	svc := NewFamilyService(repo, zap.NewNop())

	family, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, family)
}

func TestFamilyResolveStoreTimeoutIsRetryable(t *testing.T) {
	repo := &mockFamilyAccountRepo{err: fmt.Errorf("list students by email domain: %w", context.DeadlineExceeded)}
	svc := NewFamilyService(repo, zap.NewNop())

	_, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)
	assert.True(t, appErrors.IsRetryable(err))
}

func TestFamilyResolveStoreFailureIsInternal(t *testing.T) {
	repo := &mockFamilyAccountRepo{err: errors.New("syntax error")}
	svc := NewFamilyService(repo, zap.NewNop())

	_, err := svc.Resolve(context.Background(), models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.False(t, appErrors.IsRetryable(err))
}

func TestFamilyContains(t *testing.T) {
	repo := &mockFamilyAccountRepo{students: map[string][]models.User{
		"example.com": {
			student("u1", "parent@example.com"),
			student("u2", "parent+alice@example.com"),
			student("u4", "other@example.com"),
		},
	}}
	svc := NewFamilyService(repo, zap.NewNop())
	principal := models.Principal{ID: "u1", Email: "parent@example.com", Role: models.RoleStudent}

	ok, err := svc.Contains(context.Background(), principal, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Contains(context.Background(), principal, "u4")
	require.NoError(t, err)
	assert.False(t, ok)
}

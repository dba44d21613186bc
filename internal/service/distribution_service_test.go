package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/jobs"
	"github.com/noah-isme/academy-portal-api/pkg/mailer"
)

type mockDistributionContentRepo struct {
	variant       models.ContentVariant
	contentID     string
	recipientIDs  []string
	notifications []models.Notification
	err           error
}

func (m *mockDistributionContentRepo) AssignRecipients(ctx context.Context, variant models.ContentVariant, contentID string, recipientIDs []string, notifications []models.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.variant = variant
	m.contentID = contentID
	m.recipientIDs = recipientIDs
	m.notifications = notifications
	return nil
}

type mockDistributionAccountRepo struct {
	live   map[string]models.User
	audits []models.AuditLog
}

func (m *mockDistributionAccountRepo) FindLiveByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var users []models.User
	for _, id := range ids {
		if u, ok := m.live[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *mockDistributionAccountRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

type mockMailQueue struct {
	jobs []jobs.Job
	err  error
}

func (m *mockMailQueue) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

type mockFeedInvalidator struct {
	keys []string
}

func (m *mockFeedInvalidator) Delete(ctx context.Context, keys ...string) error {
	m.keys = append(m.keys, keys...)
	return nil
}

func newDistributionFixture(live ...models.User) (*DistributionService, *mockDistributionContentRepo, *mockDistributionAccountRepo, *mockMailQueue, *mockFeedInvalidator) {
	content := &mockDistributionContentRepo{}
	accounts := &mockDistributionAccountRepo{live: map[string]models.User{}}
	for _, u := range live {
		accounts.live[u.ID] = u
	}
	mail := &mockMailQueue{}
	feed := &mockFeedInvalidator{}
	svc := NewDistributionService(content, accounts, mail, feed, nil, zap.NewNop())
	return svc, content, accounts, mail, feed
}

func assignReq(ids ...string) AssignRequest {
	return AssignRequest{
		ContentID:    "c1",
		Variant:      models.ContentVariantEvent,
		RecipientIDs: ids,
		Subject:      "Sports Day",
		Message:      "See you there",
	}
}

func TestAssignRequiresAdmin(t *testing.T) {
	svc, _, _, _, _ := newDistributionFixture()

	_, err := svc.Assign(context.Background(), assignReq("u1"), models.Principal{ID: "t1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssignRejectsUnknownVariant(t *testing.T) {
	svc, _, _, _, _ := newDistributionFixture()
	req := assignReq("u1")
	req.Variant = "PODCAST"

	_, err := svc.Assign(context.Background(), req, models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignDedupesAndSkipsTrashedRecipients(t *testing.T) {
	svc, content, _, mail, _ := newDistributionFixture(
		models.User{ID: "u1", Email: "u1@example.com", FullName: "One"},
		models.User{ID: "u2", Email: "u2@example.com", FullName: "Two"},
	)

	// u3 is not live and u1 appears twice.
	result, err := svc.Assign(context.Background(), assignReq("u1", "u2", "u1", "u3"), models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, 2, result.NotifiedCount)
	assert.Equal(t, []string{"u1", "u2", "u3"}, content.recipientIDs)
	require.Len(t, content.notifications, 2)
	for _, n := range content.notifications {
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, "Sports Day", n.Subject)
		require.NotNil(t, n.Link)
		assert.Equal(t, "/events/c1", *n.Link)
	}
	assert.Len(t, mail.jobs, 2)
	msg, ok := mail.jobs[0].Payload.(mailer.Message)
	require.True(t, ok)
	assert.Equal(t, "u1@example.com", msg.ToAddress)
}

func TestAssignMissingContentIsNotFound(t *testing.T) {
	svc, content, _, mail, _ := newDistributionFixture(models.User{ID: "u1"})
	content.err = sql.ErrNoRows

	_, err := svc.Assign(context.Background(), assignReq("u1"), models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, mail.jobs)
}

func TestAssignInvalidatesFeedsAndAudits(t *testing.T) {
	svc, _, accounts, _, feed := newDistributionFixture(models.User{ID: "u1"})

	_, err := svc.Assign(context.Background(), assignReq("u1"), models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, []string{"feed:u1:event"}, feed.keys)
	require.Len(t, accounts.audits, 1)
	assert.Equal(t, models.AuditActionContentAssign, accounts.audits[0].Action)
}

func TestAssignMailFailureDoesNotFailBroadcast(t *testing.T) {
	svc, _, _, mail, _ := newDistributionFixture(models.User{ID: "u1"})
	mail.err = errors.New("queue full")

	result, err := svc.Assign(context.Background(), assignReq("u1"), models.Principal{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotifiedCount)
}

package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymStreakAPI/internal/testhelpers"
	"gymStreakAPI/internal/types/gym"
	"gymStreakAPI/services"
)

func (a *testAPI) webhook(t *testing.T, payload []byte, sentAt time.Time, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("svix-id", "msg_test")
	req.Header.Set("svix-timestamp", strconv.FormatInt(sentAt.Unix(), 10))
	if signature == "" {
		signature = testhelpers.SignWebhook(testhelpers.TestWebhookSecret, "msg_test", sentAt, payload)
	}
	req.Header.Set("svix-signature", signature)

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookUserCreatedSyncsMember(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	payload := testhelpers.MockClerkWebhookPayload("user.created", "user_new", "gym-3", "coach")
	rr := api.webhook(t, payload, testNow, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success": true}`, rr.Body.String())

	g, err := api.fx.Directory.FindGym(ctx, "gym-3")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "Test Gym", g.Name)

	m, err := api.fx.Directory.FindMember(ctx, "user_new")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "gym-3", m.GymID)
	assert.Equal(t, gym.RoleCoach, m.Role)
	assert.Equal(t, "Test User", m.Name)
	assert.Equal(t, "test.user@example.com", m.Email)
}

func TestWebhookUserUpdatedMovesMember(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	payload := testhelpers.MockClerkWebhookPayload("user.updated", "ath-1", "gym-2", "athlete")
	rr := api.webhook(t, payload, testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)

	member, err := api.fx.Directory.IsMember(ctx, "gym-2", "ath-1")
	require.NoError(t, err)
	assert.True(t, member)
	member, err = api.fx.Directory.IsMember(ctx, "gym-1", "ath-1")
	require.NoError(t, err)
	assert.False(t, member)

	g, err := api.fx.Directory.FindGym(ctx, "gym-2")
	require.NoError(t, err)
	assert.Equal(t, "Test Gym", g.Name)
}

func TestWebhookUserDeleted(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	payload := testhelpers.MockClerkWebhookPayload("user.deleted", "ath-2", "", "")
	rr := api.webhook(t, payload, testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)

	m, err := api.fx.Directory.FindMember(ctx, "ath-2")
	require.NoError(t, err)
	assert.Nil(t, m)

	// deleting twice is acknowledged
	rr = api.webhook(t, payload, testNow, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookRosterChangesRefreshGymDayViews(t *testing.T) {
	api := newTestAPI(t)

	gymDay := func(gymID, subject string) services.GymDayView {
		t.Helper()
		rr := api.do(t, http.MethodGet, "/api/v1/attendance/"+gymID+"/2024-03-01", subject, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return decode[services.GymDayView](t, rr)
	}
	ids := func(view services.GymDayView) []string {
		out := make([]string, 0, len(view.Athletes))
		for _, a := range view.Athletes {
			out = append(out, a.ID)
		}
		return out
	}

	// both views are served from the cache from here on
	require.ElementsMatch(t, []string{"ath-1", "ath-2"}, ids(gymDay("gym-1", "coach-1")))
	require.ElementsMatch(t, []string{"ath-3"}, ids(gymDay("gym-2", "coach-2")))

	rr := api.webhook(t, testhelpers.MockClerkWebhookPayload("user.updated", "ath-3", "gym-1", "athlete"), testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)

	moved := gymDay("gym-1", "coach-1")
	assert.ElementsMatch(t, []string{"ath-1", "ath-2", "ath-3"}, ids(moved))
	assert.Equal(t, "Test Gym", moved.Gym.Name)
	assert.Empty(t, gymDay("gym-2", "coach-2").Athletes, "the gym the athlete left")

	rr = api.webhook(t, testhelpers.MockClerkWebhookPayload("user.deleted", "ath-2", "", ""), testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.ElementsMatch(t, []string{"ath-1", "ath-3"}, ids(gymDay("gym-1", "coach-1")))

	rr = api.webhook(t, testhelpers.MockClerkWebhookPayload("user.created", "user_new", "gym-1", "athlete"), testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.ElementsMatch(t, []string{"ath-1", "ath-3", "user_new"}, ids(gymDay("gym-1", "coach-1")))
}

func TestWebhookIgnoresUnusableMetadata(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	rr := api.webhook(t, testhelpers.MockClerkWebhookPayload("user.created", "user_nogym", "", "athlete"), testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = api.webhook(t, testhelpers.MockClerkWebhookPayload("user.created", "user_badrole", "gym-1", "owner"), testNow, "")
	require.Equal(t, http.StatusOK, rr.Code)

	for _, id := range []string{"user_nogym", "user_badrole"} {
		m, err := api.fx.Directory.FindMember(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, m, id)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	api := newTestAPI(t)
	payload := testhelpers.MockClerkWebhookPayload("user.created", "user_x", "gym-1", "athlete")

	tests := []struct {
		name      string
		sentAt    time.Time
		signature string
	}{
		{"forged signature", testNow, "v1,aW52YWxpZA=="},
		{"unknown version", testNow, "v2," + testhelpers.SignWebhook(testhelpers.TestWebhookSecret, "msg_test", testNow, payload)[3:]},
		{"stale timestamp", testNow.Add(-10 * time.Minute), ""},
		{"future timestamp", testNow.Add(10 * time.Minute), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.webhook(t, payload, tt.sentAt, tt.signature)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	// any one valid signature in the list is enough
	valid := testhelpers.SignWebhook(testhelpers.TestWebhookSecret, "msg_test", testNow, payload)
	rr := api.webhook(t, payload, testNow, "v1,aW52YWxpZA== "+valid)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	api := newTestAPI(t)
	signed := testhelpers.MockClerkWebhookPayload("user.created", "user_x", "gym-1", "athlete")
	sig := testhelpers.SignWebhook(testhelpers.TestWebhookSecret, "msg_test", testNow, signed)

	tampered := testhelpers.MockClerkWebhookPayload("user.created", "user_x", "gym-1", "admin")
	rr := api.webhook(t, tampered, testNow, sig)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

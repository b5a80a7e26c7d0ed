package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/qrtoken"
	"github.com/dukerupert/roster/internal/store"
)

const testQRSecret = "0123456789abcdef0123456789abcdef"

func newProfileHandler(t *testing.T) (*ProfileHandler, *fakeMailer, *model.User) {
	t.Helper()
	db := setupTestDB(t)
	mailer := &fakeMailer{}
	signer, err := qrtoken.NewSigner(testQRSecret, time.Hour)
	require.NoError(t, err)

	h := NewProfileHandler(
		store.NewUserStore(db),
		store.NewUserEmailStore(db),
		store.NewMemberStore(db),
		store.NewMagicLinkStore(db),
		mailer,
		signer,
		365*24*time.Hour,
		testLogger(),
	)
	return h, mailer, createUser(t, db, "me@example.com")
}

func TestProfileGetAndUpdate(t *testing.T) {
	h, _, u := newProfileHandler(t)

	rec := call(t, h.Get, "GET /api/me", "GET", "/api/me", nil, u.ID, false)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "me@example.com", got["email"])
	assert.Equal(t, []any{}, got["emails"])

	rec = call(t, h.Update, "PUT /api/me", "PUT", "/api/me", map[string]string{
		"first_name": "<b>Grace</b>", "last_name": "Hopper",
	}, u.ID, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[model.User](t, rec)
	assert.Equal(t, "Grace", updated.FirstName)

	rec = call(t, h.Update, "PUT /api/me", "PUT", "/api/me", map[string]string{"first_name": "Only"}, u.ID, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifySecondaryEmail(t *testing.T) {
	h, mailer, u := newProfileHandler(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	rec := call(t, h.AddEmail, "POST /api/me/emails", "POST", "/api/me/emails",
		map[string]string{"email": "me@uni.edu"}, u.ID, false)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	added := decode[model.UserEmail](t, rec)
	assert.Equal(t, "uni.edu", added.Domain)
	assert.Nil(t, added.VerifiedAt)

	sent := mailer.last(t)
	assert.Equal(t, model.PurposeVerifyEmail, sent.purpose)

	rec = call(t, h.VerifyEmail, "POST /api/me/emails/verify", "POST", "/api/me/emails/verify",
		map[string]string{"email": "me@uni.edu", "code": "bad"}, u.ID, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h.VerifyEmail, "POST /api/me/emails/verify", "POST", "/api/me/emails/verify",
		map[string]string{"email": "me@uni.edu", "code": sent.code}, u.ID, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[model.UserEmail](t, rec)
	require.NotNil(t, verified.VerifiedAt)
	require.NotNil(t, verified.ExpiresAt)
	assert.True(t, verified.VerifiedAt.Equal(now))
	assert.True(t, verified.ExpiresAt.Equal(now.Add(365*24*time.Hour)))
}

func TestVerifyUnknownSecondaryEmail(t *testing.T) {
	h, _, u := newProfileHandler(t)

	rec := call(t, h.VerifyEmail, "POST /api/me/emails/verify", "POST", "/api/me/emails/verify",
		map[string]string{"email": "other@uni.edu", "code": "123456"}, u.ID, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQRTokenRoundTrip(t *testing.T) {
	h, _, u := newProfileHandler(t)

	rec := call(t, h.QR, "GET /api/me/qr", "GET", "/api/me/qr", nil, u.ID, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	userID, err := h.signer.Verify(token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
}

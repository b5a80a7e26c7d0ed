package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/roster/internal/middleware"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
)

func newAuthHandler(t *testing.T) (*AuthHandler, *fakeMailer, *store.SessionStore, *store.UserStore) {
	t.Helper()
	db := setupTestDB(t)
	mailer := &fakeMailer{}
	us := store.NewUserStore(db)
	ss := store.NewSessionStore(db)
	h := NewAuthHandler(us, ss, store.NewMagicLinkStore(db), mailer, testLogger())
	return h, mailer, ss, us
}

func TestRegisterAndVerify(t *testing.T) {
	h, mailer, ss, us := newAuthHandler(t)

	rec := call(t, h.Register, "POST /register", "POST", "/register", map[string]string{
		"email": "New@Example.com", "first_name": "Ada", "last_name": "Lovelace",
	}, 0, false)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	sent := mailer.last(t)
	assert.Equal(t, "new@example.com", sent.to)
	assert.Equal(t, model.PurposeRegister, sent.purpose)

	user, err := us.GetByEmail("new@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ada", user.FirstName)

	rec = call(t, h.Verify, "POST /auth/verify", "POST", "/auth/verify", map[string]string{
		"email": "new@example.com", "code": sent.code,
	}, 0, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			token = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, token)

	sess, err := ss.GetByToken(token)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, user.ID, sess.UserID)

	// A used code cannot open a second session.
	rec = call(t, h.Verify, "POST /auth/verify", "POST", "/auth/verify", map[string]string{
		"email": "new@example.com", "code": sent.code,
	}, 0, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterExistingEmailDoesNotRevealAccount(t *testing.T) {
	h, mailer, _, us := newAuthHandler(t)
	_, err := us.Create("taken@example.com", "Old", "User")
	require.NoError(t, err)

	rec := call(t, h.Register, "POST /register", "POST", "/register", map[string]string{
		"email": "taken@example.com", "first_name": "New", "last_name": "User",
	}, 0, false)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, mailer.codes)
}

func TestRegisterValidation(t *testing.T) {
	h, _, _, _ := newAuthHandler(t)

	rec := call(t, h.Register, "POST /register", "POST", "/register", map[string]string{
		"email": "not-an-email", "first_name": "A", "last_name": "B",
	}, 0, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.Register, "POST /register", "POST", "/register", map[string]string{
		"email": "ok@example.com",
	}, 0, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.Register, "POST /register", "POST", "/register", "{", 0, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	h, mailer, _, _ := newAuthHandler(t)

	rec := call(t, h.Login, "POST /login", "POST", "/login", map[string]string{"email": "nobody@example.com"}, 0, false)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, mailer.codes)
}

func TestLoginTooManyAttempts(t *testing.T) {
	h, mailer, _, us := newAuthHandler(t)
	_, err := us.Create("member@example.com", "M", "E")
	require.NoError(t, err)

	rec := call(t, h.Login, "POST /login", "POST", "/login", map[string]string{"email": "member@example.com"}, 0, false)
	require.Equal(t, http.StatusAccepted, rec.Code)
	sent := mailer.last(t)
	assert.Equal(t, model.PurposeLogin, sent.purpose)

	wrong := "000000"
	if sent.code == wrong {
		wrong = "111111"
	}
	for i := 0; i < maxCodeAttempts-1; i++ {
		rec = call(t, h.Verify, "POST /auth/verify", "POST", "/auth/verify", map[string]string{
			"email": "member@example.com", "code": wrong,
		}, 0, false)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec = call(t, h.Verify, "POST /auth/verify", "POST", "/auth/verify", map[string]string{
		"email": "member@example.com", "code": wrong,
	}, 0, false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The code is burned even if the right one is supplied now.
	rec = call(t, h.Verify, "POST /auth/verify", "POST", "/auth/verify", map[string]string{
		"email": "member@example.com", "code": sent.code,
	}, 0, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	h, _, ss, us := newAuthHandler(t)
	u, err := us.Create("out@example.com", "O", "U")
	require.NoError(t, err)
	sess, err := ss.Create(u.ID)
	require.NoError(t, err)

	req := call(t, func(w http.ResponseWriter, r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sess.Token})
		h.Logout(w, r)
	}, "POST /logout", "POST", "/logout", nil, 0, false)
	assert.Equal(t, http.StatusNoContent, req.Code)

	got, err := ss.GetByToken(sess.Token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/roster/internal/middleware"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
)

const sessionMaxAge = 90 * 24 * 60 * 60

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	codes        *codes
	logger       *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, mls *store.MagicLinkStore, mailer Mailer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		codes:        &codes{store: mls, mailer: mailer, logger: logger},
		logger:       logger,
	}
}

// codeSent is returned whether or not the address is known, so the response
// does not reveal which emails have accounts.
var codeSent = map[string]string{"status": "code_sent"}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	addr, ok := parseEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "first and last name are required")
		return
	}

	existing, err := h.userStore.GetByEmail(addr)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusAccepted, codeSent)
		return
	}

	if _, err := h.userStore.Create(addr, req.FirstName, req.LastName); err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.codes.send(r.Context(), addr, model.PurposeRegister); err != nil {
		h.logger.Error("create register code", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, codeSent)
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, ok := parseEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	user, err := h.userStore.GetByEmail(addr)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeJSON(w, http.StatusAccepted, codeSent)
		return
	}
	if user != nil {
		if err := h.codes.send(r.Context(), addr, model.PurposeLogin); err != nil {
			h.logger.Error("create login code", "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, codeSent)
}

// Verify handles POST /auth/verify. A valid login or registration code opens
// a session.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	addr := strings.ToLower(strings.TrimSpace(req.Email))

	ml, status, msg := h.codes.check(addr, strings.TrimSpace(req.Code), model.PurposeLogin, model.PurposeRegister)
	if ml == nil {
		writeError(w, status, msg)
		return
	}

	user, err := h.userStore.GetByEmail(ml.Email)
	if err != nil || user == nil {
		h.logger.Error("verify user lookup", "email", ml.Email, "error", err)
		writeError(w, http.StatusUnauthorized, "account not found")
		return
	}

	sess, err := h.sessionStore.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, http.StatusOK, user)
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessionStore.Delete(cookie.Value); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

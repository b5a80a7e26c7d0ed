package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/roster/internal/auth"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/qrtoken"
	"github.com/dukerupert/roster/internal/store"
	"github.com/microcosm-cc/bluemonday"
)

// ProfileHandler serves the signed-in user's own records.
type ProfileHandler struct {
	users    *store.UserStore
	emails   *store.UserEmailStore
	members  *store.MemberStore
	codes    *codes
	signer   *qrtoken.Signer
	policy   *bluemonday.Policy
	emailTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewProfileHandler builds the handler. emailTTL bounds how long a verified
// secondary address counts; zero means it never lapses.
func NewProfileHandler(
	us *store.UserStore,
	es *store.UserEmailStore,
	ms *store.MemberStore,
	mls *store.MagicLinkStore,
	mailer Mailer,
	signer *qrtoken.Signer,
	emailTTL time.Duration,
	logger *slog.Logger,
) *ProfileHandler {
	return &ProfileHandler{
		users:    us,
		emails:   es,
		members:  ms,
		codes:    &codes{store: mls, mailer: mailer, logger: logger},
		signer:   signer,
		policy:   bluemonday.StrictPolicy(),
		emailTTL: emailTTL,
		now:      time.Now,
		logger:   logger,
	}
}

type profile struct {
	*model.User
	Emails []model.UserEmail `json:"emails"`
}

// Get handles GET /api/me
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	emails, err := h.emails.ListByUser(user.ID)
	if err != nil {
		h.logger.Error("list user emails", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if emails == nil {
		emails = []model.UserEmail{}
	}
	writeJSON(w, http.StatusOK, profile{User: user, Emails: emails})
}

// Update handles PUT /api/me
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	first := strings.TrimSpace(h.policy.Sanitize(req.FirstName))
	last := strings.TrimSpace(h.policy.Sanitize(req.LastName))
	if first == "" || last == "" {
		writeError(w, http.StatusBadRequest, "first and last name are required")
		return
	}

	user, err := h.users.Update(auth.UserID(r.Context()), first, last)
	if err != nil {
		h.logger.Error("update user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Members handles GET /api/me/members
func (h *ProfileHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list own members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list memberships")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// AddEmail handles POST /api/me/emails. The address is stored unverified and
// a code is sent to it.
func (h *ProfileHandler) AddEmail(w http.ResponseWriter, r *http.Request) {
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

	userID := auth.UserID(r.Context())
	ue, err := h.emails.GetByUserAndEmail(userID, addr)
	if err != nil {
		h.logger.Error("lookup user email", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add email")
		return
	}
	if ue == nil {
		ue, err = h.emails.Add(userID, addr)
		if err != nil {
			h.logger.Error("add user email", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to add email")
			return
		}
	}

	if err := h.codes.send(r.Context(), addr, model.PurposeVerifyEmail); err != nil {
		h.logger.Error("create verification code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send verification code")
		return
	}
	writeJSON(w, http.StatusAccepted, ue)
}

// VerifyEmail handles POST /api/me/emails/verify
func (h *ProfileHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	addr := strings.ToLower(strings.TrimSpace(req.Email))
	userID := auth.UserID(r.Context())

	ue, err := h.emails.GetByUserAndEmail(userID, addr)
	if err != nil {
		h.logger.Error("lookup user email", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}
	if ue == nil {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}

	if ml, status, msg := h.codes.check(addr, strings.TrimSpace(req.Code), model.PurposeVerifyEmail); ml == nil {
		writeError(w, status, msg)
		return
	}

	now := h.now().UTC()
	var expires *time.Time
	if h.emailTTL > 0 {
		t := now.Add(h.emailTTL)
		expires = &t
	}
	if err := h.emails.MarkVerified(ue.ID, now, expires); err != nil {
		h.logger.Error("mark email verified", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}

	ue, err = h.emails.GetByUserAndEmail(userID, addr)
	if err != nil {
		h.logger.Error("reload user email", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}
	writeJSON(w, http.StatusOK, ue)
}

// DeleteEmail handles DELETE /api/me/emails/{id}
func (h *ProfileHandler) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.emails.Delete(id, auth.UserID(r.Context())); err != nil {
		h.logger.Error("delete user email", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete email")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QR handles GET /api/me/qr. The token is rendered as a QR code by the
// client and scanned at meetings.
func (h *ProfileHandler) QR(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	token, err := h.signer.Issue(auth.UserID(r.Context()), now)
	if err != nil {
		h.logger.Error("issue qr token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue check-in code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"issued_at": now.UTC(),
	})
}

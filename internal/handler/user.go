package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/roster/internal/auth"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
)

type UserHandler struct {
	users    *store.UserStore
	sessions *store.SessionStore
	logger   *slog.Logger
}

func NewUserHandler(us *store.UserStore, ss *store.SessionStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: us, sessions: ss, logger: logger}
}

// List handles GET /api/admin/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List()
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// SetAdmin handles PUT /api/admin/users/{id}/admin. Admins cannot remove
// their own flag.
func (h *UserHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		IsAdmin bool `json:"is_admin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if id == auth.UserID(r.Context()) && !req.IsAdmin {
		writeError(w, http.StatusConflict, "cannot remove your own admin access")
		return
	}

	user, err := h.users.GetByID(id)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.users.SetAdmin(id, req.IsAdmin); err != nil {
		h.logger.Error("set admin", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	user.IsAdmin = req.IsAdmin
	h.logger.Info("admin flag changed", "user_id", id, "is_admin", req.IsAdmin, "by", auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, user)
}

// Delete handles DELETE /api/admin/users/{id}. Member records, sessions and
// attendance go with the user.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if id == auth.UserID(r.Context()) {
		writeError(w, http.StatusConflict, "cannot delete yourself")
		return
	}
	if err := h.sessions.DeleteByUser(id); err != nil {
		h.logger.Error("delete user sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	if err := h.users.Delete(id); err != nil {
		h.logger.Error("delete user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
	"github.com/microcosm-cc/bluemonday"
)

// MembershipHandler manages membership types and their periods.
type MembershipHandler struct {
	store  *store.MembershipStore
	policy *bluemonday.Policy
	logger *slog.Logger
}

func NewMembershipHandler(s *store.MembershipStore, logger *slog.Logger) *MembershipHandler {
	return &MembershipHandler{store: s, policy: bluemonday.StrictPolicy(), logger: logger}
}

type typeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *MembershipHandler) readType(w http.ResponseWriter, r *http.Request) (typeRequest, bool) {
	var req typeRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Name = strings.TrimSpace(h.policy.Sanitize(req.Name))
	req.Description = strings.TrimSpace(h.policy.Sanitize(req.Description))
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}

func (h *MembershipHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.ListTypes()
	if err != nil {
		h.logger.Error("list membership types", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list membership types")
		return
	}
	if types == nil {
		types = []model.MembershipType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *MembershipHandler) CreateType(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readType(w, r)
	if !ok {
		return
	}
	t, err := h.store.CreateType(req.Name, req.Description)
	if err != nil {
		h.logger.Error("create membership type", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create membership type")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *MembershipHandler) UpdateType(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	req, ok := h.readType(w, r)
	if !ok {
		return
	}
	t, err := h.store.UpdateType(id, req.Name, req.Description)
	if err != nil {
		h.logger.Error("update membership type", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update membership type")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteType refuses while the type still has periods.
func (h *MembershipHandler) DeleteType(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	periods, err := h.store.ListByType(id)
	if err != nil {
		h.logger.Error("list periods for type", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete membership type")
		return
	}
	if len(periods) > 0 {
		writeError(w, http.StatusConflict, "membership type still has periods")
		return
	}
	if err := h.store.DeleteType(id); err != nil {
		h.logger.Error("delete membership type", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete membership type")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type periodRequest struct {
	MembershipTypeID            int64     `json:"membership_type_id"`
	StartTime                   time.Time `json:"start_time"`
	EndTime                     time.Time `json:"end_time"`
	PriceID                     string    `json:"price_id"`
	RequiresStudentVerification bool      `json:"requires_student_verification"`
}

func (h *MembershipHandler) readPeriod(w http.ResponseWriter, r *http.Request) (model.Membership, bool) {
	var req periodRequest
	if !decodeJSON(w, r, &req) {
		return model.Membership{}, false
	}
	if req.MembershipTypeID == 0 {
		writeError(w, http.StatusBadRequest, "membership_type_id is required")
		return model.Membership{}, false
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.EndTime.After(req.StartTime) {
		writeError(w, http.StatusBadRequest, "end_time must be after start_time")
		return model.Membership{}, false
	}

	t, err := h.store.GetType(req.MembershipTypeID)
	if err != nil {
		h.logger.Error("get membership type", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save membership")
		return model.Membership{}, false
	}
	if t == nil {
		writeError(w, http.StatusBadRequest, "unknown membership type")
		return model.Membership{}, false
	}

	return model.Membership{
		MembershipTypeID:            req.MembershipTypeID,
		StartTime:                   req.StartTime.UTC(),
		EndTime:                     req.EndTime.UTC(),
		PriceID:                     strings.TrimSpace(req.PriceID),
		RequiresStudentVerification: req.RequiresStudentVerification,
	}, true
}

// ListPeriods handles GET /api/admin/memberships?type_id=
func (h *MembershipHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	var (
		periods []model.Membership
		err     error
	)
	if v := r.URL.Query().Get("type_id"); v != "" {
		typeID, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid type_id")
			return
		}
		periods, err = h.store.ListByType(typeID)
	} else {
		periods, err = h.store.List()
	}
	if err != nil {
		h.logger.Error("list memberships", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list memberships")
		return
	}
	if periods == nil {
		periods = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (h *MembershipHandler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	m, ok := h.readPeriod(w, r)
	if !ok {
		return
	}
	created, err := h.store.Create(m)
	if err != nil {
		h.logger.Error("create membership", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create membership")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *MembershipHandler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	m, ok := h.readPeriod(w, r)
	if !ok {
		return
	}
	m.ID = id
	updated, err := h.store.Update(m)
	if err != nil {
		h.logger.Error("update membership", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update membership")
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *MembershipHandler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.Delete(id); err != nil {
		h.logger.Error("delete membership", "error", err)
		writeError(w, http.StatusConflict, "membership is in use")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/roster/internal/csvimport"
	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/metrics"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
	"github.com/microcosm-cc/bluemonday"
)

// MemberHandler is the admin view of member records.
type MemberHandler struct {
	members *store.MemberStore
	imports *store.ImportStore
	hub     Broadcaster
	policy  *bluemonday.Policy
	logger  *slog.Logger
}

func NewMemberHandler(ms *store.MemberStore, is *store.ImportStore, hub Broadcaster, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{
		members: ms,
		imports: is,
		hub:     orNop(hub),
		policy:  bluemonday.StrictPolicy(),
		logger:  logger,
	}
}

// List handles GET /api/admin/members?status=&membership_id=&user_id=
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.MemberFilter

	if s := q.Get("status"); s != "" {
		f.Status = model.MemberStatus(s)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	for name, dst := range map[string]*int64{"membership_id": &f.MembershipID, "user_id": &f.UserID} {
		if v := q.Get(name); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = id
		}
	}

	members, err := h.members.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

type memberDetail struct {
	*model.Member
	ValidTargets []model.MemberStatus `json:"valid_targets"`
}

// Get handles GET /api/admin/members/{id}. The response lists the statuses
// the record may move to next.
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	m, err := h.members.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, memberDetail{Member: m, ValidTargets: membership.ValidTargetStatuses(m.Status)})
}

// Transition handles POST /api/admin/members/{id}/status
func (h *MemberHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Status model.MemberStatus `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	m, err := h.members.Transition(r.Context(), id, req.Status)
	if err != nil {
		metrics.MemberTransitions.WithLabelValues(string(req.Status), "rejected").Inc()
		writeStoreError(w, h.logger, err, "failed to change status")
		return
	}
	metrics.MemberTransitions.WithLabelValues(string(req.Status), "ok").Inc()

	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "updated", m.ID, m))
	writeJSON(w, http.StatusOK, memberDetail{Member: m, ValidTargets: membership.ValidTargetStatuses(m.Status)})
}

// BulkApprove handles POST /api/admin/members/bulk/approve
func (h *MemberHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, model.StatusActive)
}

// BulkResign handles POST /api/admin/members/bulk/resign. Used to deem
// members who did not renew as resigned.
func (h *MemberHandler) BulkResign(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, model.StatusResigned)
}

func (h *MemberHandler) bulk(w http.ResponseWriter, r *http.Request, to model.MemberStatus) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}

	res, err := h.members.BulkTransition(r.Context(), req.IDs, to)
	if err != nil {
		h.logger.Error("bulk transition", "to", to, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update members")
		return
	}
	metrics.MemberTransitions.WithLabelValues(string(to), "ok").Add(float64(len(res.Processed)))
	metrics.MemberTransitions.WithLabelValues(string(to), "skipped").Add(float64(len(res.Skipped)))

	h.logger.Info("bulk transition", "to", to,
		"requested", res.Requested, "processed", len(res.Processed), "skipped", len(res.Skipped))
	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "bulk_updated", 0, res))
	writeJSON(w, http.StatusOK, res)
}

// UpdateDescription handles PUT /api/admin/members/{id}/description
func (h *MemberHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.members.UpdateDescription(r.Context(), id, strings.TrimSpace(h.policy.Sanitize(req.Description)))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to update description")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "updated", m.ID, m))
	writeJSON(w, http.StatusOK, m)
}

// Delete handles DELETE /api/admin/members/{id}
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.members.Delete(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err, "failed to delete member")
		return
	}
	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /api/admin/members/import. The body is either a
// multipart form with a "file" field or raw text/csv. With ?dry_run=true the
// parsed rows are returned without writing.
func (h *MemberHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, csvimport.MaxUploadSize)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		src = file
	}

	opts := csvimport.Options{MaxRows: csvimport.MaxRows}
	if s := r.URL.Query().Get("default_status"); s != "" {
		opts.DefaultStatus = model.MemberStatus(s)
		if !opts.DefaultStatus.Valid() {
			writeError(w, http.StatusBadRequest, "unknown default_status")
			return
		}
	}

	res, err := csvimport.Parse(src, opts)
	if err != nil {
		h.logger.Warn("parse import", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.HasErrors() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if r.URL.Query().Get("dry_run") == "true" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	applied, err := h.imports.Apply(r.Context(), res.Rows)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("apply import", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import members")
		return
	}
	h.logger.Info("members imported", "batch_id", applied.BatchID,
		"users_created", applied.UsersCreated, "members_created", applied.MembersCreated)
	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "imported", 0, applied))
	writeJSON(w, http.StatusCreated, applied)
}

package handler

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/roster/internal/attendance"
	"github.com/dukerupert/roster/internal/auth"
	"github.com/dukerupert/roster/internal/metrics"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/qrtoken"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
	"github.com/microcosm-cc/bluemonday"
)

// MeetingHandler runs meetings and records who attends them.
type MeetingHandler struct {
	meetings   *store.MeetingStore
	attendance *store.AttendanceStore
	users      *store.UserStore
	signer     *qrtoken.Signer
	hub        Broadcaster
	policy     *bluemonday.Policy
	now        func() time.Time
	logger     *slog.Logger
}

func NewMeetingHandler(
	ms *store.MeetingStore,
	as *store.AttendanceStore,
	us *store.UserStore,
	signer *qrtoken.Signer,
	hub Broadcaster,
	logger *slog.Logger,
) *MeetingHandler {
	return &MeetingHandler{
		meetings:   ms,
		attendance: as,
		users:      us,
		signer:     signer,
		hub:        orNop(hub),
		policy:     bluemonday.StrictPolicy(),
		now:        time.Now,
		logger:     logger,
	}
}

func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.meetings.List(r.Context())
	if err != nil {
		h.logger.Error("list meetings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(h.policy.Sanitize(req.Name))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	m, err := h.meetings.Create(r.Context(), name)
	if err != nil {
		h.logger.Error("create meeting", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create meeting")
		return
	}
	h.hub.Broadcast(ws.NewMessage(ws.EntityMeeting, "created", m.ID, m).ForMeeting(m.ID))
	writeJSON(w, http.StatusCreated, m)
}

type meetingDetail struct {
	*model.Meeting
	ValidActions []attendance.MeetingAction `json:"valid_actions"`
	Events       []model.MeetingEvent       `json:"events"`
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	m, err := h.meetings.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get meeting", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get meeting")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	events, err := h.meetings.ListEvents(r.Context(), id)
	if err != nil {
		h.logger.Error("list meeting events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get meeting")
		return
	}
	if events == nil {
		events = []model.MeetingEvent{}
	}
	actions := attendance.ValidActions(m.Status)
	if actions == nil {
		actions = []attendance.MeetingAction{}
	}
	writeJSON(w, http.StatusOK, meetingDetail{Meeting: m, ValidActions: actions, Events: events})
}

func (h *MeetingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.meetings.Delete(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err, "failed to delete meeting")
		return
	}
	h.hub.Broadcast(ws.NewMessage(ws.EntityMeeting, "deleted", id, nil).ForMeeting(id))
	w.WriteHeader(http.StatusNoContent)
}

// Action handles POST /api/admin/meetings/{id}/{action} for start, recess,
// resume and finish. Finishing checks out everyone still present in the same
// transaction so every stay has an end.
func (h *MeetingHandler) Action(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	action := attendance.MeetingAction(r.PathValue("action"))
	switch action {
	case attendance.ActionStart, attendance.ActionRecess, attendance.ActionResume, attendance.ActionFinish:
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	ctx := r.Context()
	by := auth.UserIDPtr(ctx)

	var (
		m   *model.Meeting
		out []model.AttendanceEvent
	)
	if action == attendance.ActionFinish {
		m, out, err = h.attendance.FinishMeeting(ctx, id, by)
	} else {
		m, err = h.meetings.Apply(ctx, id, action, by)
	}
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to update meeting")
		return
	}
	h.announceCheckOuts(id, out)
	h.logger.Info("meeting action", "meeting_id", id, "action", action, "status", m.Status)
	h.hub.Broadcast(ws.NewMessage(ws.EntityMeeting, string(action), m.ID, m).ForMeeting(m.ID))
	writeJSON(w, http.StatusOK, m)
}

type attendanceResponse struct {
	Event *model.AttendanceEvent `json:"event"`
	User  *model.User            `json:"user"`
}

// Scan handles POST /api/admin/meetings/{id}/scan with a member's QR token.
func (h *MeetingHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := h.signer.Verify(strings.TrimSpace(req.Token), h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired check-in code")
		return
	}
	h.toggle(w, r, id, userID, model.MethodQR)
}

// Toggle handles POST /api/admin/meetings/{id}/attendance/{userID}
func (h *MeetingHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	userID, err := parsePathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	h.toggle(w, r, id, userID, model.MethodManual)
}

func (h *MeetingHandler) toggle(w http.ResponseWriter, r *http.Request, meetingID, userID int64, method string) {
	user, err := h.users.GetByID(userID)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record attendance")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	e, err := h.attendance.Toggle(r.Context(), meetingID, userID, method, auth.UserIDPtr(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to record attendance")
		return
	}
	metrics.AttendanceEvents.WithLabelValues(string(e.Type), method).Inc()

	h.hub.Broadcast(ws.NewMessage(ws.EntityAttendance, string(e.Type), e.ID, attendanceResponse{Event: e, User: user}).ForMeeting(meetingID))
	writeJSON(w, http.StatusCreated, attendanceResponse{Event: e, User: user})
}

// CheckOutAll handles POST /api/admin/meetings/{id}/checkout-all
func (h *MeetingHandler) CheckOutAll(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	events, ok := h.checkOutAll(w, r, id, auth.UserIDPtr(r.Context()))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked_out": len(events),
		"events":      events,
	})
}

func (h *MeetingHandler) checkOutAll(w http.ResponseWriter, r *http.Request, meetingID int64, by *int64) ([]model.AttendanceEvent, bool) {
	events, err := h.attendance.CheckOutAll(r.Context(), meetingID, by)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to check out attendees")
		return nil, false
	}
	h.announceCheckOuts(meetingID, events)
	return events, true
}

func (h *MeetingHandler) announceCheckOuts(meetingID int64, events []model.AttendanceEvent) {
	if len(events) == 0 {
		return
	}
	metrics.AttendanceEvents.WithLabelValues(string(model.CheckOut), model.MethodBulk).Add(float64(len(events)))
	h.logger.Info("checked out all attendees", "meeting_id", meetingID, "count", len(events))
	h.hub.Broadcast(ws.NewMessage(ws.EntityAttendance, "checkout_all", meetingID, events).ForMeeting(meetingID))
}

type attendeeRow struct {
	attendance.UserSummary
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Attendees handles GET /api/admin/meetings/{id}/attendees. Every user with
// at least one event is listed, with their stays and whether they are in now.
func (h *MeetingHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.report(w, r)
	if !ok {
		return
	}
	present := 0
	for _, row := range rows {
		if row.Present {
			present++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"present":   present,
		"attendees": rows,
	})
}

// Export handles GET /api/admin/meetings/{id}/export.csv: one line per stay.
func (h *MeetingHandler) Export(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.report(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="meeting-%s-attendance.csv"`, r.PathValue("id")))

	cw := csv.NewWriter(w)
	cw.Write([]string{"user_id", "email", "first_name", "last_name", "check_in", "check_out", "minutes"})
	for _, row := range rows {
		for _, seg := range row.Segments {
			out, minutes := "", ""
			if seg.CheckOut != nil {
				out = seg.CheckOut.UTC().Format(time.RFC3339)
			}
			if seg.DurationMinutes != nil {
				minutes = strconv.Itoa(*seg.DurationMinutes)
			}
			cw.Write([]string{
				strconv.FormatInt(row.UserID, 10),
				row.Email,
				row.FirstName,
				row.LastName,
				seg.CheckIn.UTC().Format(time.RFC3339),
				out,
				minutes,
			})
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("write attendance export", "error", err)
	}
}

func (h *MeetingHandler) report(w http.ResponseWriter, r *http.Request) ([]attendeeRow, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	m, err := h.meetings.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get meeting", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load attendance")
		return nil, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}

	events, err := h.attendance.ListByMeeting(r.Context(), id)
	if err != nil {
		h.logger.Error("list attendance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load attendance")
		return nil, false
	}

	users, err := h.users.List()
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load attendance")
		return nil, false
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	summaries := attendance.Summarize(events)
	rows := make([]attendeeRow, 0, len(summaries))
	for _, s := range summaries {
		u := byID[s.UserID]
		rows = append(rows, attendeeRow{
			UserSummary: s,
			Email:       u.Email,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].LastName != rows[j].LastName {
			return rows[i].LastName < rows[j].LastName
		}
		return rows[i].FirstName < rows[j].FirstName
	})
	return rows, true
}

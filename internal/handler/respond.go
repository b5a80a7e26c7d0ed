// Package handler implements the roster's JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/roster/internal/attendance"
	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/push"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
)

// maxJSONBody caps decoded request bodies.
const maxJSONBody = 1 << 20

// Broadcaster publishes live updates to connected admin screens.
type Broadcaster interface {
	Broadcast(msg ws.Message)
}

// Mailer delivers one-time codes and plain notices.
type Mailer interface {
	Configured() bool
	SendCode(ctx context.Context, to, code, purpose string) error
	SendNotice(ctx context.Context, to, subject, text string) error
}

// AdminNotifier pushes a notification to every admin device.
type AdminNotifier interface {
	NotifyAdmins(p push.Payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	return parsePathID(r, "id")
}

func parsePathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// writeStoreError maps domain errors to status codes. Anything unrecognised
// is logged and reported as a 500 carrying msg.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error, msg string) {
	var transitionErr *membership.InvalidTransitionError
	var meetingErr *attendance.InvalidMeetingTransitionError

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.As(err, &meetingErr):
		writeError(w, http.StatusConflict, meetingErr.Error())
	case errors.Is(err, store.ErrMeetingClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// nopBroadcaster is used when no hub is wired.
type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(ws.Message) {}

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

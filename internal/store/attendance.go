package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/roster/internal/attendance"
	"github.com/dukerupert/roster/internal/model"
)

// AttendanceStore appends to and reads the attendance event log. Events are
// never updated or deleted individually.
type AttendanceStore struct {
	db     *sql.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewAttendanceStore(db *sql.DB) *AttendanceStore {
	return &AttendanceStore{
		db:     db,
		tracer: otel.Tracer("roster/store"),
		now:    time.Now,
	}
}

const attendanceCols = `id, meeting_id, user_id, event_type, method, recorded_by, occurred_at`

func scanAttendanceEvent(s scanner) (*model.AttendanceEvent, error) {
	var e model.AttendanceEvent
	var by sql.NullInt64
	if err := s.Scan(&e.ID, &e.MeetingID, &e.UserID, &e.Type, &e.Method, &by, &e.OccurredAt); err != nil {
		return nil, err
	}
	if by.Valid {
		e.RecordedBy = &by.Int64
	}
	return &e, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAttendance(ctx context.Context, q querier, e model.AttendanceEvent) (*model.AttendanceEvent, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO attendance_events (meeting_id, user_id, event_type, method, recorded_by, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.MeetingID, e.UserID, e.Type, e.Method, nullInt64(e.RecordedBy), e.OccurredAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attendance event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return &e, nil
}

func listAttendance(ctx context.Context, q querier, query string, args ...any) ([]model.AttendanceEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}
	defer rows.Close()

	var out []model.AttendanceEvent
	for rows.Next() {
		e, err := scanAttendanceEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Append writes an event without checking the meeting status or the toggle
// rule. Imports and tests use it; scans go through Toggle.
func (s *AttendanceStore) Append(ctx context.Context, e model.AttendanceEvent) (*model.AttendanceEvent, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	return insertAttendance(ctx, s.db, e)
}

func (s *AttendanceStore) ListByMeeting(ctx context.Context, meetingID int64) ([]model.AttendanceEvent, error) {
	return listAttendance(ctx, s.db,
		`SELECT `+attendanceCols+` FROM attendance_events WHERE meeting_id = ? ORDER BY occurred_at, id`,
		meetingID,
	)
}

func (s *AttendanceStore) ListByMeetingAndUser(ctx context.Context, meetingID, userID int64) ([]model.AttendanceEvent, error) {
	return listAttendance(ctx, s.db,
		`SELECT `+attendanceCols+` FROM attendance_events WHERE meeting_id = ? AND user_id = ? ORDER BY occurred_at, id`,
		meetingID, userID,
	)
}

// LastEvent returns the user's most recent event for the meeting, or nil.
func (s *AttendanceStore) LastEvent(ctx context.Context, meetingID, userID int64) (*model.AttendanceEvent, error) {
	return lastAttendance(ctx, s.db, meetingID, userID)
}

func lastAttendance(ctx context.Context, q querier, meetingID, userID int64) (*model.AttendanceEvent, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+attendanceCols+` FROM attendance_events WHERE meeting_id = ? AND user_id = ?
		 ORDER BY occurred_at DESC, id DESC LIMIT 1`,
		meetingID, userID,
	)
	e, err := scanAttendanceEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last attendance event: %w", err)
	}
	return e, nil
}

func requireOpenMeeting(ctx context.Context, q querier, meetingID int64) error {
	status, err := meetingStatus(ctx, q, meetingID)
	if err != nil {
		return err
	}
	if !attendance.AcceptsAttendance(status) {
		return ErrMeetingClosed
	}
	return nil
}

// Toggle records the opposite of the user's last event for the meeting. The
// meeting must be ongoing or in recess; otherwise ErrMeetingClosed is
// returned and nothing is written.
func (s *AttendanceStore) Toggle(ctx context.Context, meetingID, userID int64, method string, by *int64) (*model.AttendanceEvent, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.toggle",
		trace.WithAttributes(
			attribute.Int64("meeting.id", meetingID),
			attribute.Int64("user.id", userID),
			attribute.String("method", method),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireOpenMeeting(ctx, tx, meetingID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	last, err := lastAttendance(ctx, tx, meetingID, userID)
	if err != nil {
		return nil, err
	}

	e, err := insertAttendance(ctx, tx, model.AttendanceEvent{
		MeetingID:  meetingID,
		UserID:     userID,
		Type:       attendance.ToggleEventType(last),
		Method:     method,
		RecordedBy: by,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.String("event.type", string(e.Type)))
	return e, nil
}

// CheckOutAll appends one check-out, stamped with the same instant, for
// everyone currently present. It returns the events written.
func (s *AttendanceStore) CheckOutAll(ctx context.Context, meetingID int64, by *int64) ([]model.AttendanceEvent, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.check_out_all",
		trace.WithAttributes(attribute.Int64("meeting.id", meetingID)),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireOpenMeeting(ctx, tx, meetingID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	written, err := checkOutPresent(ctx, tx, meetingID, by, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int("attendance.checked_out", len(written)))
	return written, nil
}

// FinishMeeting checks out everyone still present and finishes the meeting
// in one transaction, so no scan can land between the two. The check-outs
// and the finish event share one timestamp.
func (s *AttendanceStore) FinishMeeting(ctx context.Context, meetingID int64, by *int64) (*model.Meeting, []model.AttendanceEvent, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.finish_meeting",
		trace.WithAttributes(attribute.Int64("meeting.id", meetingID)),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := meetingStatus(ctx, tx, meetingID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if _, err := attendance.NextMeetingStatus(status, attendance.ActionFinish); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	at := s.now().UTC()
	written := []model.AttendanceEvent{}
	if attendance.AcceptsAttendance(status) {
		if written, err = checkOutPresent(ctx, tx, meetingID, by, at); err != nil {
			return nil, nil, err
		}
	}
	if err := applyMeetingAction(ctx, tx, meetingID, attendance.ActionFinish, by, at); err != nil {
		return nil, nil, err
	}

	m, err := scanMeeting(tx.QueryRowContext(ctx, `SELECT `+meetingCols+` FROM meetings WHERE id = ?`, meetingID))
	if err != nil {
		return nil, nil, fmt.Errorf("reload meeting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int("attendance.checked_out", len(written)))
	return m, written, nil
}

func checkOutPresent(ctx context.Context, q querier, meetingID int64, by *int64, at time.Time) ([]model.AttendanceEvent, error) {
	events, err := listAttendance(ctx, q,
		`SELECT `+attendanceCols+` FROM attendance_events WHERE meeting_id = ? ORDER BY occurred_at, id`,
		meetingID,
	)
	if err != nil {
		return nil, err
	}

	written := []model.AttendanceEvent{}
	for _, userID := range attendance.CurrentAttendees(events).UserIDs() {
		e, err := insertAttendance(ctx, q, model.AttendanceEvent{
			MeetingID:  meetingID,
			UserID:     userID,
			Type:       model.CheckOut,
			Method:     model.MethodBulk,
			RecordedBy: by,
			OccurredAt: at,
		})
		if err != nil {
			return nil, err
		}
		written = append(written, *e)
	}
	return written, nil
}

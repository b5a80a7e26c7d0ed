package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/roster/internal/attendance"
	"github.com/dukerupert/roster/internal/model"
)

type MeetingStore struct {
	db *sql.DB
}

func NewMeetingStore(db *sql.DB) *MeetingStore {
	return &MeetingStore{db: db}
}

const meetingCols = `id, name, status, created_at`

func scanMeeting(s scanner) (*model.Meeting, error) {
	var m model.Meeting
	if err := s.Scan(&m.ID, &m.Name, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MeetingStore) Create(ctx context.Context, name string) (*model.Meeting, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO meetings (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MeetingStore) GetByID(ctx context.Context, id int64) (*model.Meeting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+meetingCols+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}

func (s *MeetingStore) List(ctx context.Context) ([]model.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+meetingCols+` FROM meetings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *MeetingStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete meeting: %w", err)
	}
	return nil
}

// Apply performs a lifecycle action and records it as a MeetingEvent in the
// same transaction.
func (s *MeetingStore) Apply(ctx context.Context, id int64, action attendance.MeetingAction, by *int64) (*model.Meeting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyMeetingAction(ctx, tx, id, action, by, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetByID(ctx, id)
}

func meetingStatus(ctx context.Context, q querier, id int64) (model.MeetingStatus, error) {
	var status model.MeetingStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM meetings WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read meeting status: %w", err)
	}
	return status, nil
}

func applyMeetingAction(ctx context.Context, q querier, id int64, action attendance.MeetingAction, by *int64, at time.Time) error {
	from, err := meetingStatus(ctx, q, id)
	if err != nil {
		return err
	}
	to, err := attendance.NextMeetingStatus(from, action)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `UPDATE meetings SET status = ? WHERE id = ?`, to, id); err != nil {
		return fmt.Errorf("update meeting status: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO meeting_events (meeting_id, action, from_status, to_status, created_by, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, action, from, to, nullInt64(by), at,
	); err != nil {
		return fmt.Errorf("insert meeting event: %w", err)
	}
	return nil
}

func (s *MeetingStore) ListEvents(ctx context.Context, meetingID int64) ([]model.MeetingEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, action, from_status, to_status, created_by, occurred_at
		 FROM meeting_events WHERE meeting_id = ? ORDER BY occurred_at, id`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list meeting events: %w", err)
	}
	defer rows.Close()

	var out []model.MeetingEvent
	for rows.Next() {
		var e model.MeetingEvent
		var by sql.NullInt64
		if err := rows.Scan(&e.ID, &e.MeetingID, &e.Action, &e.FromStatus, &e.ToStatus, &by, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan meeting event: %w", err)
		}
		if by.Valid {
			e.CreatedBy = &by.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

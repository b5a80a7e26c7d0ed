package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/model"
)

// MemberStore persists Member records. Every status change goes through the
// membership transition table.
type MemberStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{
		db:     db,
		tracer: otel.Tracer("roster/store"),
	}
}

const memberCols = `id, user_id, membership_id, status, payment_session_id, description, created_at, updated_at`

func scanMember(s scanner) (*model.Member, error) {
	var m model.Member
	var sessionID sql.NullString
	err := s.Scan(&m.ID, &m.UserID, &m.MembershipID, &m.Status, &sessionID, &m.Description, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		m.PaymentSessionID = &sessionID.String
	}
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]model.Member, error) {
	var out []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Create inserts a member in its initial status.
func (s *MemberStore) Create(ctx context.Context, userID, membershipID int64, status model.MemberStatus, description string) (*model.Member, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("create member: unknown status %q", status)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO members (user_id, membership_id, status, description) VALUES (?, ?, ?, ?)`,
		userID, membershipID, status, description,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MemberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) GetByPaymentSession(ctx context.Context, sessionID string) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE payment_session_id = ?`, sessionID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member by payment session: %w", err)
	}
	return m, nil
}

// MemberFilter narrows List. Zero fields match everything.
type MemberFilter struct {
	Status       model.MemberStatus
	MembershipID int64
	UserID       int64
}

func (s *MemberStore) List(ctx context.Context, f MemberFilter) ([]model.Member, error) {
	query := `SELECT ` + memberCols + ` FROM members WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.MembershipID != 0 {
		query += ` AND membership_id = ?`
		args = append(args, f.MembershipID)
	}
	if f.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (s *MemberStore) ListByUser(ctx context.Context, userID int64) ([]model.Member, error) {
	return s.List(ctx, MemberFilter{UserID: userID})
}

func (s *MemberStore) ListForPeriod(ctx context.Context, userID, membershipID int64) ([]model.Member, error) {
	return s.List(ctx, MemberFilter{UserID: userID, MembershipID: membershipID})
}

// Transition moves one member to status to. The current status is read and
// validated inside the same transaction as the write, and nothing is written
// when the change is not allowed.
func (s *MemberStore) Transition(ctx context.Context, id int64, to model.MemberStatus) (*model.Member, error) {
	return s.TransitionPath(ctx, id, to)
}

// TransitionPath walks one member through each status in path, in order,
// inside a single transaction. Every step must be an allowed edge from the
// one before it; if any step is rejected nothing is written. The returned
// member is read before commit.
func (s *MemberStore) TransitionPath(ctx context.Context, id int64, path ...model.MemberStatus) (*model.Member, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("transition member %d: empty path", id)
	}
	ctx, span := s.tracer.Start(ctx, "member.transition",
		trace.WithAttributes(
			attribute.Int64("member.id", id),
			attribute.String("status.to", string(path[len(path)-1])),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var from model.MemberStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM members WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read member status: %w", err)
	}
	span.SetAttributes(attribute.String("status.from", string(from)))

	for _, to := range path {
		if _, err := membership.ValidateTransition(from, to); err != nil {
			span.RecordError(err)
			return nil, err
		}
		from = to
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET status = ?, updated_at = ? WHERE id = ?`,
		from, time.Now().UTC(), id,
	); err != nil {
		return nil, fmt.Errorf("update member status: %w", err)
	}

	m, err := scanMember(tx.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// BulkResult reports which members a bulk status change touched.
type BulkResult struct {
	Requested int     `json:"requested"`
	Processed []int64 `json:"processed"`
	Skipped   []int64 `json:"skipped"`
}

// BulkTransition moves every member in ids that may legally reach to, in one
// transaction. Members whose current status forbids the change, and IDs that
// do not exist, are reported as skipped.
func (s *MemberStore) BulkTransition(ctx context.Context, ids []int64, to model.MemberStatus) (*BulkResult, error) {
	ids = uniqueIDs(ids)
	ctx, span := s.tracer.Start(ctx, "member.bulk_transition",
		trace.WithAttributes(
			attribute.String("status.to", string(to)),
			attribute.Int("member.count", len(ids)),
		),
	)
	defer span.End()

	res := &BulkResult{Requested: len(ids), Processed: []int64{}, Skipped: []int64{}}
	if len(ids) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	candidates, err := scanMembers(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	found := make(map[int64]bool, len(candidates))
	for _, m := range candidates {
		found[m.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			res.Skipped = append(res.Skipped, id)
		}
	}

	valid, skipped := membership.PartitionTransitions(candidates, to)
	res.Skipped = append(res.Skipped, skipped...)

	now := time.Now().UTC()
	for _, m := range valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET status = ?, updated_at = ? WHERE id = ?`,
			to, now, m.ID,
		); err != nil {
			return nil, fmt.Errorf("update member %d: %w", m.ID, err)
		}
		res.Processed = append(res.Processed, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(
		attribute.Int("member.processed", len(res.Processed)),
		attribute.Int("member.skipped", len(res.Skipped)),
	)
	return res, nil
}

func (s *MemberStore) SetPaymentSession(ctx context.Context, id int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET payment_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set payment session: %w", err)
	}
	return nil
}

func (s *MemberStore) UpdateDescription(ctx context.Context, id int64, description string) (*model.Member, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET description = ?, updated_at = ? WHERE id = ?`,
		description, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update member description: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MemberStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

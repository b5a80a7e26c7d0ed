package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/roster/internal/model"
)

// MembershipHistory reads the records the auto-approval evaluator needs. It
// satisfies membership.History.
type MembershipHistory struct {
	db *sql.DB
}

func NewMembershipHistory(db *sql.DB) *MembershipHistory {
	return &MembershipHistory{db: db}
}

func (h *MembershipHistory) MembershipsByType(ctx context.Context, typeID int64) ([]model.Membership, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+membershipCols+` FROM memberships WHERE membership_type_id = ? ORDER BY end_time, id`,
		typeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships by type: %w", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (h *MembershipHistory) MembersForPeriod(ctx context.Context, userID, membershipID int64) ([]model.Member, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE user_id = ? AND membership_id = ? ORDER BY id`,
		userID, membershipID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members for period: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (h *MembershipHistory) User(ctx context.Context, userID int64) (*model.User, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (h *MembershipHistory) UserEmails(ctx context.Context, userID int64) ([]model.UserEmail, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+userEmailCols+` FROM user_emails WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user emails: %w", err)
	}
	defer rows.Close()

	var out []model.UserEmail
	for rows.Next() {
		e, err := scanUserEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user email: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

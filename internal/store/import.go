package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/roster/internal/csvimport"
)

// ImportStore applies parsed roster files.
type ImportStore struct {
	db *sql.DB
}

func NewImportStore(db *sql.DB) *ImportStore {
	return &ImportStore{db: db}
}

type ImportResult struct {
	BatchID        string `json:"batch_id"`
	UsersCreated   int    `json:"users_created"`
	MembersCreated int    `json:"members_created"`
	SkippedLines   []int  `json:"skipped_lines"`
}

// Apply creates missing users and one member per row in a single
// transaction. Rows for a user who already has a record in the same period
// are skipped. An unknown membership ID aborts the whole import. Every member
// created is tagged with the result's BatchID.
func (s *ImportStore) Apply(ctx context.Context, rows []csvimport.Row) (*ImportResult, error) {
	res := &ImportResult{BatchID: uuid.NewString(), SkippedLines: []int{}}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE id = ?`, row.MembershipID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check membership: %w", err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("line %d: membership %d: %w", row.Line, row.MembershipID, ErrNotFound)
		}

		var userID int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, row.Email).Scan(&userID)
		switch {
		case err == sql.ErrNoRows:
			result, err := tx.ExecContext(ctx,
				`INSERT INTO users (email, first_name, last_name) VALUES (?, ?, ?)`,
				row.Email, row.FirstName, row.LastName,
			)
			if err != nil {
				return nil, fmt.Errorf("line %d: insert user: %w", row.Line, err)
			}
			if userID, err = result.LastInsertId(); err != nil {
				return nil, fmt.Errorf("last insert id: %w", err)
			}
			res.UsersCreated++
		case err != nil:
			return nil, fmt.Errorf("line %d: find user: %w", row.Line, err)
		}

		var held int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM members WHERE user_id = ? AND membership_id = ?`,
			userID, row.MembershipID,
		).Scan(&held)
		if err != nil {
			return nil, fmt.Errorf("line %d: check member: %w", row.Line, err)
		}
		if held > 0 {
			res.SkippedLines = append(res.SkippedLines, row.Line)
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO members (user_id, membership_id, status, description, import_batch) VALUES (?, ?, ?, ?, ?)`,
			userID, row.MembershipID, row.Status, row.Description, res.BatchID,
		); err != nil {
			return nil, fmt.Errorf("line %d: insert member: %w", row.Line, err)
		}
		res.MembersCreated++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return res, nil
}

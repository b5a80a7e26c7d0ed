package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/model"
)

// UserEmailStore keeps the secondary addresses a user has claimed.
type UserEmailStore struct {
	db *sql.DB
}

func NewUserEmailStore(db *sql.DB) *UserEmailStore {
	return &UserEmailStore{db: db}
}

func scanUserEmail(s scanner) (*model.UserEmail, error) {
	var e model.UserEmail
	var verifiedAt, expiresAt sql.NullTime
	err := s.Scan(&e.ID, &e.UserID, &e.Email, &e.Domain, &verifiedAt, &expiresAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		e.VerifiedAt = &verifiedAt.Time
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

const userEmailCols = `id, user_id, email, domain, verified_at, expires_at, created_at`

// Add records an unverified address. Adding an address the user already has
// returns the existing row.
func (s *UserEmailStore) Add(userID int64, email string) (*model.UserEmail, error) {
	email = normalizeEmail(email)
	_, err := s.db.Exec(
		`INSERT INTO user_emails (user_id, email, domain) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, email) DO NOTHING`,
		userID, email, membership.DomainOf(email),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user email: %w", err)
	}
	return s.GetByUserAndEmail(userID, email)
}

func (s *UserEmailStore) GetByUserAndEmail(userID int64, email string) (*model.UserEmail, error) {
	row := s.db.QueryRow(
		`SELECT `+userEmailCols+` FROM user_emails WHERE user_id = ? AND email = ?`,
		userID, normalizeEmail(email),
	)
	e, err := scanUserEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user email: %w", err)
	}
	return e, nil
}

func (s *UserEmailStore) ListByUser(userID int64) ([]model.UserEmail, error) {
	rows, err := s.db.Query(
		`SELECT `+userEmailCols+` FROM user_emails WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user emails: %w", err)
	}
	defer rows.Close()

	var emails []model.UserEmail
	for rows.Next() {
		e, err := scanUserEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user email: %w", err)
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// MarkVerified stamps the address as verified. A nil expiresAt keeps it
// valid indefinitely.
func (s *UserEmailStore) MarkVerified(id int64, verifiedAt time.Time, expiresAt *time.Time) error {
	var exp sql.NullTime
	if expiresAt != nil {
		exp = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE user_emails SET verified_at = ?, expires_at = ? WHERE id = ?`,
		verifiedAt.UTC(), exp, id,
	)
	if err != nil {
		return fmt.Errorf("mark user email verified: %w", err)
	}
	return nil
}

func (s *UserEmailStore) Delete(id, userID int64) error {
	_, err := s.db.Exec(`DELETE FROM user_emails WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete user email: %w", err)
	}
	return nil
}

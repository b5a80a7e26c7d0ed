package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/roster/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var isAdmin int
	err := s.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &isAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	return &u, nil
}

const userCols = `id, email, first_name, last_name, is_admin, created_at, updated_at`

func (s *UserStore) Create(email, firstName, lastName string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, first_name, last_name) VALUES (?, ?, ?)`,
		normalizeEmail(email), firstName, lastName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, normalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) List() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *UserStore) Update(id int64, firstName, lastName string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`,
		firstName, lastName, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) SetAdmin(id int64, admin bool) error {
	var v int
	if admin {
		v = 1
	}
	_, err := s.db.Exec(`UPDATE users SET is_admin = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}

// EnsureAdmin creates the user if needed and grants the admin flag.
func (s *UserStore) EnsureAdmin(email string) (*model.User, error) {
	u, err := s.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if u, err = s.Create(email, "", ""); err != nil {
			return nil, err
		}
	}
	if err := s.SetAdmin(u.ID, true); err != nil {
		return nil, err
	}
	return s.GetByID(u.ID)
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/roster/internal/model"
)

// MembershipStore manages membership types and their purchasable periods.
type MembershipStore struct {
	db *sql.DB
}

func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

const membershipTypeCols = `id, name, description, created_at`

func scanMembershipType(s scanner) (*model.MembershipType, error) {
	var mt model.MembershipType
	if err := s.Scan(&mt.ID, &mt.Name, &mt.Description, &mt.CreatedAt); err != nil {
		return nil, err
	}
	return &mt, nil
}

func (s *MembershipStore) CreateType(name, description string) (*model.MembershipType, error) {
	result, err := s.db.Exec(`INSERT INTO membership_types (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return nil, fmt.Errorf("insert membership type: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetType(id)
}

func (s *MembershipStore) GetType(id int64) (*model.MembershipType, error) {
	row := s.db.QueryRow(`SELECT `+membershipTypeCols+` FROM membership_types WHERE id = ?`, id)
	mt, err := scanMembershipType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership type: %w", err)
	}
	return mt, nil
}

func (s *MembershipStore) ListTypes() ([]model.MembershipType, error) {
	rows, err := s.db.Query(`SELECT ` + membershipTypeCols + ` FROM membership_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list membership types: %w", err)
	}
	defer rows.Close()

	var types []model.MembershipType
	for rows.Next() {
		mt, err := scanMembershipType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership type: %w", err)
		}
		types = append(types, *mt)
	}
	return types, rows.Err()
}

func (s *MembershipStore) UpdateType(id int64, name, description string) (*model.MembershipType, error) {
	_, err := s.db.Exec(`UPDATE membership_types SET name = ?, description = ? WHERE id = ?`, name, description, id)
	if err != nil {
		return nil, fmt.Errorf("update membership type: %w", err)
	}
	return s.GetType(id)
}

// DeleteType fails while periods of the type exist.
func (s *MembershipStore) DeleteType(id int64) error {
	_, err := s.db.Exec(`DELETE FROM membership_types WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete membership type: %w", err)
	}
	return nil
}

const membershipCols = `id, membership_type_id, start_time, end_time, price_id, requires_student_verification, created_at`

func scanMembership(s scanner) (*model.Membership, error) {
	var m model.Membership
	var student int
	err := s.Scan(&m.ID, &m.MembershipTypeID, &m.StartTime, &m.EndTime, &m.PriceID, &student, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.RequiresStudentVerification = student != 0
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *MembershipStore) Create(m model.Membership) (*model.Membership, error) {
	result, err := s.db.Exec(
		`INSERT INTO memberships (membership_type_id, start_time, end_time, price_id, requires_student_verification)
		 VALUES (?, ?, ?, ?, ?)`,
		m.MembershipTypeID, m.StartTime.UTC(), m.EndTime.UTC(), m.PriceID, boolInt(m.RequiresStudentVerification),
	)
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MembershipStore) GetByID(id int64) (*model.Membership, error) {
	row := s.db.QueryRow(`SELECT `+membershipCols+` FROM memberships WHERE id = ?`, id)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *MembershipStore) List() ([]model.Membership, error) {
	return s.list(`SELECT ` + membershipCols + ` FROM memberships ORDER BY start_time DESC, id DESC`)
}

func (s *MembershipStore) ListByType(typeID int64) ([]model.Membership, error) {
	return s.list(`SELECT `+membershipCols+` FROM memberships WHERE membership_type_id = ? ORDER BY end_time, id`, typeID)
}

// ListPurchasable returns periods that have not ended at now.
func (s *MembershipStore) ListPurchasable(now time.Time) ([]model.Membership, error) {
	return s.list(`SELECT `+membershipCols+` FROM memberships WHERE end_time > ? ORDER BY start_time, id`, now.UTC())
}

func (s *MembershipStore) list(query string, args ...any) ([]model.Membership, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
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

func (s *MembershipStore) Update(m model.Membership) (*model.Membership, error) {
	_, err := s.db.Exec(
		`UPDATE memberships SET membership_type_id = ?, start_time = ?, end_time = ?, price_id = ?,
		 requires_student_verification = ? WHERE id = ?`,
		m.MembershipTypeID, m.StartTime.UTC(), m.EndTime.UTC(), m.PriceID, boolInt(m.RequiresStudentVerification), m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	return s.GetByID(m.ID)
}

// Delete fails while members reference the period.
func (s *MembershipStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM memberships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

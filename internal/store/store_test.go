package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/roster/internal/database"
	"github.com/dukerupert/roster/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *sql.DB, email string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(email, "Test", "User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createPeriod(t *testing.T, db *sql.DB, typeID int64, start, end time.Time) *model.Membership {
	t.Helper()
	m, err := NewMembershipStore(db).Create(model.Membership{
		MembershipTypeID: typeID,
		StartTime:        start,
		EndTime:          end,
		PriceID:          "price_test",
	})
	if err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return m
}

func createType(t *testing.T, db *sql.DB, name string) *model.MembershipType {
	t.Helper()
	mt, err := NewMembershipStore(db).CreateType(name, "")
	if err != nil {
		t.Fatalf("create membership type: %v", err)
	}
	return mt
}

func createMember(t *testing.T, db *sql.DB, userID, membershipID int64, status model.MemberStatus) *model.Member {
	t.Helper()
	m, err := NewMemberStore(db).Create(context.Background(), userID, membershipID, status, "")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

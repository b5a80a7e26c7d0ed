package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/model"
)

func TestHistoryDrivesEvaluator(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	mt := createType(t, db, "Regular")
	prev := createPeriod(t, db, mt.ID, day(2025, 1, 1), day(2026, 1, 1))
	next := createPeriod(t, db, mt.ID, day(2026, 1, 1), day(2027, 1, 1))

	renewing := createUser(t, db, "renewing@example.com")
	newcomer := createUser(t, db, "newcomer@example.com")
	createMember(t, db, renewing.ID, prev.ID, model.StatusResigned)

	ev := membership.NewEvaluator(NewMembershipHistory(db), membership.Config{})

	ok, err := ev.Eligible(ctx, renewing.ID, *next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eligible(ctx, newcomer.ID, *next)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryStudentEmail(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	mt := createType(t, db, "Student")
	prev := createPeriod(t, db, mt.ID, day(2025, 1, 1), day(2026, 1, 1))
	next, err := NewMembershipStore(db).Create(model.Membership{
		MembershipTypeID:            mt.ID,
		StartTime:                   day(2026, 1, 1),
		EndTime:                     day(2027, 1, 1),
		RequiresStudentVerification: true,
	})
	require.NoError(t, err)

	u := createUser(t, db, "dana@example.com")
	createMember(t, db, u.ID, prev.ID, model.StatusActive)

	ev := membership.NewEvaluator(NewMembershipHistory(db), membership.Config{StudentDomain: "uni.example.edu"})

	ok, err := ev.Eligible(ctx, u.ID, *next)
	require.NoError(t, err)
	assert.False(t, ok, "no student address yet")

	es := NewUserEmailStore(db)
	e, err := es.Add(u.ID, "dana@uni.example.edu")
	require.NoError(t, err)
	exp := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, es.MarkVerified(e.ID, time.Now().UTC(), &exp))

	ok, err = ev.Eligible(ctx, u.ID, *next)
	require.NoError(t, err)
	assert.True(t, ok)
}

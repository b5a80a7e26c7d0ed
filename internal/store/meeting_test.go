package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/roster/internal/attendance"
	"github.com/dukerupert/roster/internal/model"
)

func TestMeetingLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	ms := NewMeetingStore(db)
	admin := createUser(t, db, "admin@example.com")

	m, err := ms.Create(ctx, "Annual general meeting")
	require.NoError(t, err)
	assert.Equal(t, model.MeetingUpcoming, m.Status)

	actions := []struct {
		action attendance.MeetingAction
		want   model.MeetingStatus
	}{
		{attendance.ActionStart, model.MeetingOngoing},
		{attendance.ActionRecess, model.MeetingRecess},
		{attendance.ActionResume, model.MeetingOngoing},
		{attendance.ActionFinish, model.MeetingFinished},
	}
	for _, a := range actions {
		got, err := ms.Apply(ctx, m.ID, a.action, &admin.ID)
		require.NoError(t, err, "action %s", a.action)
		assert.Equal(t, a.want, got.Status)
	}

	events, err := ms.ListEvents(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, model.MeetingUpcoming, events[0].FromStatus)
	assert.Equal(t, model.MeetingFinished, events[3].ToStatus)
	require.NotNil(t, events[0].CreatedBy)
	assert.Equal(t, admin.ID, *events[0].CreatedBy)
}

func TestMeetingInvalidAction(t *testing.T) {
	ctx := context.Background()
	ms := NewMeetingStore(setupTestDB(t))
	m, _ := ms.Create(ctx, "Board")

	_, err := ms.Apply(ctx, m.ID, attendance.ActionRecess, nil)
	var invalid *attendance.InvalidMeetingTransitionError
	require.True(t, errors.As(err, &invalid))

	got, _ := ms.GetByID(ctx, m.ID)
	assert.Equal(t, model.MeetingUpcoming, got.Status)

	events, _ := ms.ListEvents(ctx, m.ID)
	assert.Empty(t, events)
}

func TestMeetingApplyNotFound(t *testing.T) {
	ms := NewMeetingStore(setupTestDB(t))

	_, err := ms.Apply(context.Background(), 9999, attendance.ActionStart, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

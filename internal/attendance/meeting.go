package attendance

import (
	"fmt"

	"github.com/dukerupert/roster/internal/model"
)

// MeetingAction is an admin command that moves a meeting through its
// lifecycle.
type MeetingAction string

const (
	ActionStart  MeetingAction = "start"
	ActionRecess MeetingAction = "recess"
	ActionResume MeetingAction = "resume"
	ActionFinish MeetingAction = "finish"
)

var meetingTransitions = map[model.MeetingStatus]map[MeetingAction]model.MeetingStatus{
	model.MeetingUpcoming: {ActionStart: model.MeetingOngoing},
	model.MeetingOngoing: {
		ActionRecess: model.MeetingRecess,
		ActionFinish: model.MeetingFinished,
	},
	model.MeetingRecess: {ActionResume: model.MeetingOngoing},
}

type InvalidMeetingTransitionError struct {
	From   model.MeetingStatus
	Action MeetingAction
}

func (e *InvalidMeetingTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a meeting that is %s", e.Action, e.From)
}

// NextMeetingStatus applies action to a meeting in status from.
func NextMeetingStatus(from model.MeetingStatus, action MeetingAction) (model.MeetingStatus, error) {
	to, ok := meetingTransitions[from][action]
	if !ok {
		return "", &InvalidMeetingTransitionError{From: from, Action: action}
	}
	return to, nil
}

// ValidActions lists the actions available in status, in a stable order.
func ValidActions(status model.MeetingStatus) []MeetingAction {
	var out []MeetingAction
	for _, a := range []MeetingAction{ActionStart, ActionRecess, ActionResume, ActionFinish} {
		if _, ok := meetingTransitions[status][a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// AcceptsAttendance reports whether scans may be recorded. Attendance is
// kept during a recess so people can step out and back in.
func AcceptsAttendance(status model.MeetingStatus) bool {
	return status == model.MeetingOngoing || status == model.MeetingRecess
}

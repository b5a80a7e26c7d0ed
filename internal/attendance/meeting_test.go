package attendance

import (
	"errors"
	"testing"

	"github.com/dukerupert/roster/internal/model"
)

func TestNextMeetingStatus(t *testing.T) {
	tests := []struct {
		from    model.MeetingStatus
		action  MeetingAction
		want    model.MeetingStatus
		wantErr bool
	}{
		{model.MeetingUpcoming, ActionStart, model.MeetingOngoing, false},
		{model.MeetingOngoing, ActionRecess, model.MeetingRecess, false},
		{model.MeetingRecess, ActionResume, model.MeetingOngoing, false},
		{model.MeetingOngoing, ActionFinish, model.MeetingFinished, false},
		{model.MeetingUpcoming, ActionFinish, "", true},
		{model.MeetingRecess, ActionFinish, "", true},
		{model.MeetingOngoing, ActionStart, "", true},
		{model.MeetingFinished, ActionStart, "", true},
		{model.MeetingFinished, ActionResume, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := NextMeetingStatus(tt.from, tt.action)
			if tt.wantErr {
				var imt *InvalidMeetingTransitionError
				if !errors.As(err, &imt) {
					t.Fatalf("err = %v, want *InvalidMeetingTransitionError", err)
				}
				if imt.From != tt.from || imt.Action != tt.action {
					t.Errorf("error = %+v, want from %q action %q", imt, tt.from, tt.action)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidActions(t *testing.T) {
	got := ValidActions(model.MeetingOngoing)
	if len(got) != 2 || got[0] != ActionRecess || got[1] != ActionFinish {
		t.Errorf("ValidActions(ongoing) = %v, want [recess finish]", got)
	}
	if got := ValidActions(model.MeetingFinished); len(got) != 0 {
		t.Errorf("ValidActions(finished) = %v, want none", got)
	}
}

func TestAcceptsAttendance(t *testing.T) {
	tests := map[model.MeetingStatus]bool{
		model.MeetingUpcoming: false,
		model.MeetingOngoing:  true,
		model.MeetingRecess:   true,
		model.MeetingFinished: false,
	}
	for status, want := range tests {
		if got := AcceptsAttendance(status); got != want {
			t.Errorf("AcceptsAttendance(%q) = %v, want %v", status, got, want)
		}
	}
}

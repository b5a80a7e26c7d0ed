// Package attendance derives meeting presence from the append-only log of
// check-in and check-out events. Every function here is pure; the store
// package owns reading and writing the log.
package attendance

import (
	"math"
	"sort"
	"time"

	"github.com/dukerupert/roster/internal/model"
)

// ToggleEventType returns the event a scan should record given the user's
// most recent event for the meeting.
func ToggleEventType(last *model.AttendanceEvent) model.AttendanceEventType {
	if last != nil && last.Type == model.CheckIn {
		return model.CheckOut
	}
	return model.CheckIn
}

// Presence is the set of users currently checked in.
type Presence map[int64]struct{}

func (p Presence) Contains(userID int64) bool {
	_, ok := p[userID]
	return ok
}

// UserIDs returns the members of the set in ascending order.
func (p Presence) UserIDs() []int64 {
	ids := make([]int64, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CurrentAttendees replays events in time order. Duplicate check-ins and
// check-outs without a matching check-in are absorbed.
func CurrentAttendees(events []model.AttendanceEvent) Presence {
	present := make(Presence)
	for _, ev := range ordered(events) {
		switch ev.Type {
		case model.CheckIn:
			present[ev.UserID] = struct{}{}
		case model.CheckOut:
			delete(present, ev.UserID)
		}
	}
	return present
}

// Segment is one continuous stay. CheckOut and DurationMinutes are nil while
// the stay is open.
type Segment struct {
	CheckIn         time.Time  `json:"check_in"`
	CheckOut        *time.Time `json:"check_out"`
	DurationMinutes *int       `json:"duration_minutes"`
}

func (s Segment) Open() bool { return s.CheckOut == nil }

// Segments pairs events into stays per user. A check-out closes the most
// recently opened stay that is still open; check-outs with nothing open are
// ignored.
func Segments(events []model.AttendanceEvent) map[int64][]Segment {
	out := make(map[int64][]Segment)
	open := make(map[int64][]int)

	for _, ev := range ordered(events) {
		switch ev.Type {
		case model.CheckIn:
			out[ev.UserID] = append(out[ev.UserID], Segment{CheckIn: ev.OccurredAt})
			open[ev.UserID] = append(open[ev.UserID], len(out[ev.UserID])-1)
		case model.CheckOut:
			stack := open[ev.UserID]
			if len(stack) == 0 {
				continue
			}
			idx := stack[len(stack)-1]
			open[ev.UserID] = stack[:len(stack)-1]

			seg := &out[ev.UserID][idx]
			at := ev.OccurredAt
			mins := int(math.Round(at.Sub(seg.CheckIn).Minutes()))
			seg.CheckOut = &at
			seg.DurationMinutes = &mins
		}
	}
	return out
}

// TotalMinutes sums closed stays. Open stays contribute nothing.
func TotalMinutes(segments []Segment) int {
	total := 0
	for _, s := range segments {
		if s.DurationMinutes != nil {
			total += *s.DurationMinutes
		}
	}
	return total
}

// UserSummary is one row of an attendance report.
type UserSummary struct {
	UserID       int64     `json:"user_id"`
	Present      bool      `json:"present"`
	TotalMinutes int       `json:"total_minutes"`
	Segments     []Segment `json:"segments"`
}

// Summarize builds a report for every user that appears in events, ordered
// by user ID.
func Summarize(events []model.AttendanceEvent) []UserSummary {
	present := CurrentAttendees(events)
	segments := Segments(events)

	ids := make([]int64, 0, len(segments))
	for id := range segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]UserSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, UserSummary{
			UserID:       id,
			Present:      present.Contains(id),
			TotalMinutes: TotalMinutes(segments[id]),
			Segments:     segments[id],
		})
	}
	return out
}

// ordered returns a copy of events sorted by time, falling back to ID for
// events recorded in the same instant.
func ordered(events []model.AttendanceEvent) []model.AttendanceEvent {
	out := make([]model.AttendanceEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

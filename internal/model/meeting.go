package model

import "time"

type MeetingStatus string

const (
	MeetingUpcoming MeetingStatus = "upcoming"
	MeetingOngoing  MeetingStatus = "ongoing"
	MeetingRecess   MeetingStatus = "recess"
	MeetingFinished MeetingStatus = "finished"
)

type Meeting struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Status    MeetingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// MeetingEvent is the audit record of one lifecycle change.
type MeetingEvent struct {
	ID         int64         `json:"id"`
	MeetingID  int64         `json:"meeting_id"`
	Action     string        `json:"action"`
	FromStatus MeetingStatus `json:"from_status"`
	ToStatus   MeetingStatus `json:"to_status"`
	CreatedBy  *int64        `json:"created_by"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type AttendanceEventType string

const (
	CheckIn  AttendanceEventType = "check_in"
	CheckOut AttendanceEventType = "check_out"
)

// How an attendance event was recorded.
const (
	MethodQR     = "qr"
	MethodManual = "manual"
	MethodBulk   = "bulk"
)

// AttendanceEvent is an append-only check-in or check-out record.
type AttendanceEvent struct {
	ID         int64               `json:"id"`
	MeetingID  int64               `json:"meeting_id"`
	UserID     int64               `json:"user_id"`
	Type       AttendanceEventType `json:"event_type"`
	Method     string              `json:"method"`
	RecordedBy *int64              `json:"recorded_by"`
	OccurredAt time.Time           `json:"occurred_at"`
}

package model

import "time"

type MembershipType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is one purchasable period of a membership type.
type Membership struct {
	ID                          int64     `json:"id"`
	MembershipTypeID            int64     `json:"membership_type_id"`
	StartTime                   time.Time `json:"start_time"`
	EndTime                     time.Time `json:"end_time"`
	PriceID                     string    `json:"price_id"`
	RequiresStudentVerification bool      `json:"requires_student_verification"`
	CreatedAt                   time.Time `json:"created_at"`
}

// MemberStatus is the lifecycle state of a Member record.
type MemberStatus string

const (
	StatusAwaitingPayment  MemberStatus = "awaiting_payment"
	StatusAwaitingApproval MemberStatus = "awaiting_approval"
	StatusActive           MemberStatus = "active"
	StatusResigned         MemberStatus = "resigned"
	StatusRejected         MemberStatus = "rejected"
)

// MemberStatuses lists every status in lifecycle order.
var MemberStatuses = []MemberStatus{
	StatusAwaitingPayment,
	StatusAwaitingApproval,
	StatusActive,
	StatusResigned,
	StatusRejected,
}

func (s MemberStatus) Valid() bool {
	for _, v := range MemberStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Member links a user to one membership period.
type Member struct {
	ID               int64        `json:"id"`
	UserID           int64        `json:"user_id"`
	MembershipID     int64        `json:"membership_id"`
	Status           MemberStatus `json:"status"`
	PaymentSessionID *string      `json:"payment_session_id,omitempty"`
	Description      string       `json:"description"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

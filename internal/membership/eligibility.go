package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/roster/internal/model"
)

// DefaultGapTolerance is the longest break between two periods of the same
// type that still counts as a continuous renewal.
const DefaultGapTolerance = 183 * 24 * time.Hour

// History is the read access the evaluator needs. The store package provides
// the SQLite implementation; tests use an in-memory fake.
type History interface {
	MembershipsByType(ctx context.Context, typeID int64) ([]model.Membership, error)
	MembersForPeriod(ctx context.Context, userID, membershipID int64) ([]model.Member, error)
	User(ctx context.Context, userID int64) (*model.User, error)
	UserEmails(ctx context.Context, userID int64) ([]model.UserEmail, error)
}

type Config struct {
	GapTolerance  time.Duration
	StudentDomain string
}

// Reason explains an eligibility decision.
type Reason string

const (
	ReasonEligible           Reason = "eligible"
	ReasonNoPreviousPeriod   Reason = "no_previous_period"
	ReasonGapTooLong         Reason = "gap_too_long"
	ReasonNotPreviousMember  Reason = "not_previous_member"
	ReasonStudentNotVerified Reason = "student_not_verified"
)

type Decision struct {
	AutoApprove bool   `json:"auto_approve"`
	Reason      Reason `json:"reason"`
}

// EligibilityError wraps a failure to read the data a decision depends on.
type EligibilityError struct {
	UserID       int64
	MembershipID int64
	Err          error
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("evaluate auto-approval for user %d, membership %d: %v", e.UserID, e.MembershipID, e.Err)
}

func (e *EligibilityError) Unwrap() error { return e.Err }

// Evaluator decides whether a new purchase continues an earlier membership
// closely enough to be approved without an admin.
type Evaluator struct {
	history History
	cfg     Config
	now     func() time.Time
}

func NewEvaluator(h History, cfg Config) *Evaluator {
	if cfg.GapTolerance <= 0 {
		cfg.GapTolerance = DefaultGapTolerance
	}
	return &Evaluator{history: h, cfg: cfg, now: time.Now}
}

// Eligible reports whether userID may be auto-approved for m.
func (e *Evaluator) Eligible(ctx context.Context, userID int64, m model.Membership) (bool, error) {
	d, err := e.Decide(ctx, userID, m)
	if err != nil {
		return false, err
	}
	return d.AutoApprove, nil
}

// Decide evaluates the renewal rules in order and stops at the first that
// fails. Read errors are returned as *EligibilityError.
func (e *Evaluator) Decide(ctx context.Context, userID int64, m model.Membership) (Decision, error) {
	wrap := func(err error) error {
		return &EligibilityError{UserID: userID, MembershipID: m.ID, Err: err}
	}

	periods, err := e.history.MembershipsByType(ctx, m.MembershipTypeID)
	if err != nil {
		return Decision{}, wrap(err)
	}
	prev := PrecedingPeriod(periods, m)
	if prev == nil {
		return Decision{Reason: ReasonNoPreviousPeriod}, nil
	}

	if m.StartTime.Sub(prev.EndTime) > e.cfg.GapTolerance {
		return Decision{Reason: ReasonGapTooLong}, nil
	}

	members, err := e.history.MembersForPeriod(ctx, userID, prev.ID)
	if err != nil {
		return Decision{}, wrap(err)
	}
	if !heldPeriod(members) {
		return Decision{Reason: ReasonNotPreviousMember}, nil
	}

	if m.RequiresStudentVerification {
		ok, err := e.hasStudentEmail(ctx, userID)
		if err != nil {
			return Decision{}, wrap(err)
		}
		if !ok {
			return Decision{Reason: ReasonStudentNotVerified}, nil
		}
	}

	return Decision{AutoApprove: true, Reason: ReasonEligible}, nil
}

// PrecedingPeriod returns the period of the same type that ended most
// recently at or before m started, or nil if there is none.
func PrecedingPeriod(periods []model.Membership, m model.Membership) *model.Membership {
	var prev *model.Membership
	for i := range periods {
		p := &periods[i]
		if p.ID == m.ID || p.MembershipTypeID != m.MembershipTypeID {
			continue
		}
		if p.EndTime.After(m.StartTime) {
			continue
		}
		if prev == nil || p.EndTime.After(prev.EndTime) {
			prev = p
		}
	}
	return prev
}

// heldPeriod reports whether any record shows the user was actually a member.
// Resigned counts: the user held the period and left it.
func heldPeriod(members []model.Member) bool {
	for _, m := range members {
		if m.Status == model.StatusActive || m.Status == model.StatusResigned {
			return true
		}
	}
	return false
}

func (e *Evaluator) hasStudentEmail(ctx context.Context, userID int64) (bool, error) {
	if e.cfg.StudentDomain == "" {
		return false, nil
	}

	u, err := e.history.User(ctx, userID)
	if err != nil {
		return false, err
	}
	if u != nil && DomainOf(u.Email) == strings.ToLower(e.cfg.StudentDomain) {
		return true, nil
	}

	emails, err := e.history.UserEmails(ctx, userID)
	if err != nil {
		return false, err
	}
	now := e.now()
	for _, ue := range emails {
		if strings.EqualFold(ue.Domain, e.cfg.StudentDomain) && ue.ValidAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// DomainOf returns the lower-cased part of addr after the last '@'.
func DomainOf(addr string) string {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[i+1:]))
}

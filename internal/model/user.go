package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserEmail is a secondary address used to prove affiliation with a domain,
// such as a student mailbox.
type UserEmail struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Email      string     `json:"email"`
	Domain     string     `json:"domain"`
	VerifiedAt *time.Time `json:"verified_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValidAt reports whether the address is verified and not expired at now.
func (e UserEmail) ValidAt(now time.Time) bool {
	if e.VerifiedAt == nil {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

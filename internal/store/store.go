// Package store persists roster data in SQLite. Each store wraps a *sql.DB
// and maps rows to internal/model types.
package store

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrMeetingClosed is returned when attendance is written to a meeting
	// that is neither ongoing nor in recess.
	ErrMeetingClosed = errors.New("meeting is not accepting attendance")
)

type scanner interface{ Scan(...any) error }

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Package csvimport parses member roster CSV files. It validates rows but
// never touches the database; store.ImportStore applies a parsed result.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"

	"github.com/dukerupert/roster/internal/model"
)

const (
	MaxUploadSize = 5 << 20 // 5 MB
	MaxRows       = 5000
)

var ErrTooManyRows = errors.New("csv has too many rows")

// Row is one validated roster entry.
type Row struct {
	Line         int                `json:"line"`
	Email        string             `json:"email"`
	FirstName    string             `json:"first_name"`
	LastName     string             `json:"last_name"`
	MembershipID int64              `json:"membership_id"`
	Status       model.MemberStatus `json:"status"`
	Description  string             `json:"description"`
}

type RowError struct {
	Line   int      `json:"line"`
	Reason string   `json:"reason"`
	Raw    []string `json:"raw,omitempty"`
}

type Result struct {
	Rows   []Row      `json:"rows"`
	Errors []RowError `json:"errors"`
}

func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

type Options struct {
	MaxRows int
	// DefaultStatus is used when the status column is missing or blank.
	DefaultStatus model.MemberStatus
}

// Parse reads rows of email,first_name,last_name,membership_id[,status[,description]].
// A header row is detected and skipped. Any row error is reported and the
// caller is expected to reject the whole file.
func Parse(r io.Reader, opts Options) (*Result, error) {
	if opts.DefaultStatus == "" {
		opts.DefaultStatus = model.StatusActive
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &Result{Rows: []Row{}, Errors: []RowError{}}
	seen := make(map[string]int)
	first := true

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line
			}
			result.Errors = append(result.Errors, RowError{Line: line, Reason: err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)

		if first {
			first = false
			rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
			if isHeader(rec) {
				continue
			}
		}
		if blank(rec) {
			continue
		}

		if opts.MaxRows > 0 && len(result.Rows)+len(result.Errors) >= opts.MaxRows {
			return nil, ErrTooManyRows
		}

		row, rowErr := parseRow(rec, line, opts)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}

		key := fmt.Sprintf("%s|%d", row.Email, row.MembershipID)
		if first, ok := seen[key]; ok {
			result.Errors = append(result.Errors, RowError{
				Line:   line,
				Reason: fmt.Sprintf("duplicate email and membership (first appears on line %d)", first),
				Raw:    rec,
			})
			continue
		}
		seen[key] = line
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func isHeader(rec []string) bool {
	c0 := strings.ToLower(strings.TrimSpace(rec[0]))
	return c0 == "email" || c0 == "e-mail" || c0 == "email_address"
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseRow(rec []string, line int, opts Options) (Row, *RowError) {
	fail := func(reason string) (Row, *RowError) {
		return Row{}, &RowError{Line: line, Reason: reason, Raw: rec}
	}

	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	if len(rec) < 4 {
		return fail("expected at least 4 columns: email, first_name, last_name, membership_id")
	}

	email := strings.ToLower(field(0))
	if email == "" {
		return fail("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fail(fmt.Sprintf("invalid email %q", email))
	}

	membershipID, err := strconv.ParseInt(field(3), 10, 64)
	if err != nil || membershipID <= 0 {
		return fail(fmt.Sprintf("invalid membership_id %q", field(3)))
	}

	status := opts.DefaultStatus
	if s := strings.ToLower(field(4)); s != "" {
		status = model.MemberStatus(s)
	}
	if !status.Valid() {
		return fail(fmt.Sprintf("unknown status %q", field(4)))
	}

	return Row{
		Line:         line,
		Email:        email,
		FirstName:    field(1),
		LastName:     field(2),
		MembershipID: membershipID,
		Status:       status,
		Description:  field(5),
	}, nil
}

package csvimport

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukerupert/roster/internal/model"
)

func TestParseWithHeader(t *testing.T) {
	in := "\ufeffemail,first_name,last_name,membership_id,status,description\n" +
		"Alice@Example.com,Alice,Anders,1,active,board\n" +
		"bob@example.com,Bob,Berg,1,,\n"

	res, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}

	a := res.Rows[0]
	if a.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", a.Email, "alice@example.com")
	}
	if a.Line != 2 {
		t.Errorf("line = %d, want 2", a.Line)
	}
	if a.Description != "board" {
		t.Errorf("description = %q, want %q", a.Description, "board")
	}
	if res.Rows[1].Status != model.StatusActive {
		t.Errorf("default status = %q, want %q", res.Rows[1].Status, model.StatusActive)
	}
}

func TestParseWithoutHeader(t *testing.T) {
	res, err := Parse(strings.NewReader("carol@example.com,Carol,C,2,resigned\n"), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Status != model.StatusResigned {
		t.Fatalf("rows = %+v, want one resigned row", res.Rows)
	}
	if res.Rows[0].Line != 1 {
		t.Errorf("line = %d, want 1", res.Rows[0].Line)
	}
}

func TestParseRowErrors(t *testing.T) {
	in := strings.Join([]string{
		"email,first_name,last_name,membership_id,status",
		",No,Email,1,active",
		"not-an-email,Bad,Email,1,active",
		"dave@example.com,Dave,D,abc,active",
		"erin@example.com,Erin,E,1,archived",
		"frank@example.com,Frank",
		"gina@example.com,Gina,G,1,active",
		"GINA@example.com,Gina,G,1,active",
		"",
	}, "\n")

	res, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(res.Rows))
	}

	wantLines := []int{2, 3, 4, 5, 6, 8}
	if len(res.Errors) != len(wantLines) {
		t.Fatalf("errors = %+v, want %d", res.Errors, len(wantLines))
	}
	for i, line := range wantLines {
		if res.Errors[i].Line != line {
			t.Errorf("error %d line = %d, want %d", i, res.Errors[i].Line, line)
		}
	}
	if !strings.Contains(res.Errors[5].Reason, "line 7") {
		t.Errorf("duplicate reason = %q, want reference to line 7", res.Errors[5].Reason)
	}
}

func TestParseTooManyRows(t *testing.T) {
	in := "a@example.com,A,A,1\nb@example.com,B,B,1\nc@example.com,C,C,1\n"
	_, err := Parse(strings.NewReader(in), Options{MaxRows: 2})
	if !errors.Is(err, ErrTooManyRows) {
		t.Errorf("err = %v, want ErrTooManyRows", err)
	}
}

func TestParseEmpty(t *testing.T) {
	res, err := Parse(strings.NewReader(""), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Rows) != 0 || res.HasErrors() {
		t.Errorf("result = %+v, want empty", res)
	}
}

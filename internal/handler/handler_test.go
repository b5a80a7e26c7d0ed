package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/roster/internal/auth"
	"github.com/dukerupert/roster/internal/database"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/payment"
	"github.com/dukerupert/roster/internal/push"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentCode struct {
	to, code, purpose string
}

type fakeMailer struct {
	mu      sync.Mutex
	codes   []sentCode
	notices []string
}

func (f *fakeMailer) Configured() bool { return true }

func (f *fakeMailer) SendCode(_ context.Context, to, code, purpose string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, sentCode{to: to, code: code, purpose: purpose})
	return nil
}

func (f *fakeMailer) SendNotice(_ context.Context, to, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, to+": "+subject)
	return nil
}

func (f *fakeMailer) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		t.Fatal("no code was sent")
	}
	return f.codes[len(f.codes)-1]
}

type fakeNotifier struct {
	payloads []push.Payload
}

func (f *fakeNotifier) NotifyAdmins(p push.Payload) {
	f.payloads = append(f.payloads, p)
}

type fakeCheckout struct {
	n        int
	requests []payment.CheckoutRequest
	err      error
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("cs_test_%d", f.n)
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.example/" + id}, nil
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []ws.Message
}

func (h *recordingHub) Broadcast(msg ws.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Type
	}
	return out
}

// call routes one request through a mux registered with pattern so path
// values resolve. A non-zero userID is installed as the signed-in user.
func call(t *testing.T, h http.HandlerFunc, pattern, method, path string, body any, userID int64, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if userID != 0 {
		req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID, IsAdmin: admin}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createUser(t *testing.T, db *sql.DB, email string) *model.User {
	t.Helper()
	u, err := store.NewUserStore(db).Create(email, "Test", "User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createPeriod(t *testing.T, db *sql.DB, typeID int64, start, end time.Time) *model.Membership {
	t.Helper()
	m, err := store.NewMembershipStore(db).Create(model.Membership{
		MembershipTypeID: typeID,
		StartTime:        start,
		EndTime:          end,
		PriceID:          "price_test",
	})
	if err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return m
}

func createType(t *testing.T, db *sql.DB, name string) *model.MembershipType {
	t.Helper()
	mt, err := store.NewMembershipStore(db).CreateType(name, "")
	if err != nil {
		t.Fatalf("create membership type: %v", err)
	}
	return mt
}

func createMember(t *testing.T, db *sql.DB, userID, membershipID int64, status model.MemberStatus) *model.Member {
	t.Helper()
	m, err := store.NewMemberStore(db).Create(context.Background(), userID, membershipID, status, "")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

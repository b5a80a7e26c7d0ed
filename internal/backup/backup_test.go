package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/roster/internal/database"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	putErr   error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), modified: make(map[string]time.Time)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	m.modified[*input.Key] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range m.objects {
		if !strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			continue
		}
		mod := m.modified[k]
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: &mod})
	}
	return out, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func configuredManager(t *testing.T, db *sql.DB) (*Manager, *mockS3Client) {
	t.Helper()
	m := NewManager(Config{
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		Passphrase: "correct horse",
	}, db, testLogger())
	mock := newMockS3()
	m.client = mock
	return m, mock
}

func TestManagerState(t *testing.T) {
	if got := NewManager(Config{}, nil, testLogger()).Status().State; got != StateDisabled {
		t.Errorf("state = %q, want %q", got, StateDisabled)
	}

	noPass := NewManager(Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}, nil, testLogger())
	if got := noPass.Status().State; got != StateDisabled {
		t.Errorf("state without passphrase = %q, want %q", got, StateDisabled)
	}

	m, _ := configuredManager(t, nil)
	if got := m.Status().State; got != StateIdle {
		t.Errorf("state = %q, want %q", got, StateIdle)
	}
}

func TestRunNowUploadsDecryptableSnapshot(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO users (email) VALUES ('alice@example.com')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m, mock := configuredManager(t, db)

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !strings.HasPrefix(key, "roster/") {
		t.Errorf("key = %q, want roster/ prefix", key)
	}

	enc := mock.objects[key]
	plain, err := Decrypt(enc, "correct horse")
	if err != nil {
		t.Fatalf("decrypt uploaded snapshot: %v", err)
	}
	if !bytes.HasPrefix(plain, []byte("SQLite format 3")) {
		t.Error("snapshot is not a SQLite database")
	}

	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil || st.LastKey != key {
		t.Errorf("status = %+v", st)
	}
}

func TestRunNowUploadError(t *testing.T) {
	m, mock := configuredManager(t, testDB(t))
	mock.putErr = errors.New("bucket gone")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if st := m.Status(); st.State != StateError || st.Error == "" {
		t.Errorf("status = %+v, want error state", st)
	}
}

func TestRunNowDisabled(t *testing.T) {
	m := NewManager(Config{}, nil, testLogger())
	if _, err := m.RunNow(context.Background()); err == nil {
		t.Error("expected error when not configured")
	}
}

func TestCleanupDeletesExpired(t *testing.T) {
	m, mock := configuredManager(t, nil)
	now := time.Now()
	mock.objects["roster/old.db.enc"] = []byte("x")
	mock.modified["roster/old.db.enc"] = now.Add(-60 * 24 * time.Hour)
	mock.objects["roster/new.db.enc"] = []byte("x")
	mock.modified["roster/new.db.enc"] = now.Add(-time.Hour)
	mock.objects["other/old.db.enc"] = []byte("x")
	mock.modified["other/old.db.enc"] = now.Add(-60 * 24 * time.Hour)

	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, ok := mock.objects["roster/old.db.enc"]; ok {
		t.Error("expired snapshot should be deleted")
	}
	if _, ok := mock.objects["roster/new.db.enc"]; !ok {
		t.Error("recent snapshot should be kept")
	}
	if _, ok := mock.objects["other/old.db.enc"]; !ok {
		t.Error("objects outside the prefix should be kept")
	}
}

func TestManagerStopSafety(t *testing.T) {
	// Stop without Start must not block or panic
	NewManager(Config{}, nil, testLogger()).Stop()

	m, _ := configuredManager(t, nil)
	m.Start(context.Background())
	m.Stop()
}


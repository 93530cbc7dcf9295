package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/database"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	m.deleted = append(m.deleted, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

var testConfig = Config{
	S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "auto"},
	Prefix:     "backups/",
	Passphrase: "correct horse battery staple",
}

func setup(t *testing.T, cb StatusCallback) (*Manager, *mockS3Client, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(testConfig, db, store.NewBackupStore(db), cb, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mock := newMockS3()
	m.client = mock
	return m, mock, db
}

func TestManagerState(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := NewManager(Config{}, nil, nil, nil, logger).Status().State; got != StateDisabled {
		t.Errorf("no config: state = %q, want %q", got, StateDisabled)
	}
	noPass := testConfig
	noPass.Passphrase = ""
	if got := NewManager(noPass, nil, nil, nil, logger).Status().State; got != StateDisabled {
		t.Errorf("no passphrase: state = %q, want %q", got, StateDisabled)
	}
	if got := NewManager(testConfig, nil, nil, nil, logger).Status().State; got != StateIdle {
		t.Errorf("configured: state = %q, want %q", got, StateIdle)
	}

	m := NewManager(Config{}, nil, nil, nil, logger)
	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("RunNow disabled: err = %v", err)
	}
	m.Start(context.Background())
	m.Stop()
}

func TestRunNowAndRestore(t *testing.T) {
	var mu sync.Mutex
	var states []State
	m, mock, db := setup(t, func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	ctx := context.Background()

	email := "saved@example.com"
	if _, err := store.NewMemberStore(db).Create(ctx, store.MemberParams{Email: &email, TokenBalance: 42}); err != nil {
		t.Fatalf("create member: %v", err)
	}

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if b.Status != model.BackupStatusCompleted || b.CompletedAt == nil || b.SizeBytes == 0 {
		t.Errorf("backup = %+v", b)
	}
	sealed, ok := mock.objects[b.S3Key]
	if !ok {
		t.Fatalf("object %q not uploaded", b.S3Key)
	}
	if int64(len(sealed)) != b.SizeBytes {
		t.Errorf("size = %d, uploaded %d", b.SizeBytes, len(sealed))
	}
	if bytes.Contains(sealed, []byte("SQLite format 3")) {
		t.Error("uploaded object should be encrypted")
	}

	mu.Lock()
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("states = %v, want [running idle]", states)
	}
	mu.Unlock()
	if m.Status().LastBackup == nil {
		t.Error("expected last backup time")
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(ctx, b.ID, dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored, err := sql.Open("sqlite", dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var balance int64
	if err := restored.QueryRow(`SELECT token_balance FROM members WHERE email = ?`, email).Scan(&balance); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if balance != 42 {
		t.Errorf("restored balance = %d, want 42", balance)
	}

	if err := m.Restore(ctx, 999, dst); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Restore missing: err = %v", err)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m, mock, _ := setup(t, nil)
	ctx := context.Background()

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	other := NewManager(Config{S3: testConfig.S3, Passphrase: "wrong"}, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	other.client = mock
	if err := other.RestoreKey(ctx, b.S3Key, filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Error("expected error restoring with the wrong passphrase")
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, _ := setup(t, nil)
	mock.putErr = errors.New("bucket unreachable")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if st := m.Status(); st.State != StateError || st.Error == "" {
		t.Errorf("status = %+v, want error state", st)
	}

	list, err := m.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != model.BackupStatusFailed || list[0].ErrorMessage == "" {
		t.Errorf("records = %+v, want one failed", list)
	}
}

func TestRunNowSingleFlight(t *testing.T) {
	m, _, _ := setup(t, nil)
	m.running.Lock()
	defer m.running.Unlock()

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("err = %v, want ErrInProgress", err)
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, mock, db := setup(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	bs := store.NewBackupStore(db)
	old, _ := bs.Create(ctx, "old.db.enc", "backups/old.db.enc", now.AddDate(0, 0, -45))
	mock.objects[old.S3Key] = []byte("x")

	fresh, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != old.S3Key {
		t.Errorf("deleted = %v, want [%s]", mock.deleted, old.S3Key)
	}
	list, _ := m.List(ctx, 10)
	if len(list) != 1 || list[0].ID != fresh.ID {
		t.Errorf("remaining = %+v, want only the fresh backup", list)
	}
}

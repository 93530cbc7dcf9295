// Package backup takes encrypted database snapshots and stores them in
// S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
)

var (
	ErrNotConfigured = errors.New("backup not configured")
	ErrInProgress    = errors.New("a backup is already running")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3            S3Config
	Prefix        string
	Passphrase    string
	Interval      time.Duration
	RetentionDays int
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager manages encrypted backups to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	running  sync.Mutex
	cfg      Config
	status   Status
	callback StatusCallback

	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. It stays disabled unless S3
// credentials and a passphrase are configured.
func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		backups:  backups,
		callback: callback,
		logger:   logger,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}
	if m.cfg.RetentionDays <= 0 {
		m.cfg.RetentionDays = 30
	}

	if cfg.S3.complete() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop. It does nothing when backups are
// disabled or no interval is set.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) scheduled(ctx context.Context) {
	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// RunNow snapshots the database with VACUUM INTO, encrypts the snapshot
// and uploads it. Only one backup runs at a time.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrNotConfigured
	}
	if !m.running.TryLock() {
		return nil, ErrInProgress
	}
	defer m.running.Unlock()

	m.setStatus(Status{State: StateRunning, InProgress: true})

	started := m.now().UTC()
	filename := fmt.Sprintf("daostore-%s.db.enc", started.Format("20060102T150405.000Z"))
	key := m.cfg.Prefix + filename

	record, err := m.backups.Create(ctx, filename, key, started)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, apperr.Store("create backup record", err)
	}

	err = m.backups.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, "")
	var size int64
	if err == nil {
		size, err = m.upload(ctx, client, bucket, key)
	}
	if err != nil {
		if uerr := m.backups.UpdateStatus(context.WithoutCancel(ctx), record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "backup_id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, err
	}

	finished := m.now().UTC()
	if err := m.backups.UpdateCompleted(ctx, record.ID, size, finished); err != nil {
		return nil, apperr.Store("complete backup record", err)
	}
	m.setStatus(Status{State: StateIdle, LastBackup: &finished})
	m.logger.Info("backup uploaded", "backup_id", record.ID, "key", key, "size_bytes", size)

	return m.backups.GetByID(ctx, record.ID)
}

func (m *Manager) upload(ctx context.Context, client s3Client, bucket, key string) (int64, error) {
	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	sealed, err := Seal(snapshot, m.cfg.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("encrypt: %w", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// snapshot returns a consistent copy of the live database.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "daostore-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List returns the most recent backup records.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	backups, err := m.backups.List(ctx, limit)
	if err != nil {
		return nil, apperr.Store("list backups", err)
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	return backups, nil
}

// Restore downloads the backup with the given record ID and writes the
// decrypted database to dst. The server must not be using dst.
func (m *Manager) Restore(ctx context.Context, backupID int64, dst string) error {
	record, err := m.backups.GetByID(ctx, backupID)
	if err != nil {
		return apperr.Store("get backup", err)
	}
	if record == nil {
		return apperr.ErrNotFound
	}
	return m.RestoreKey(ctx, record.S3Key, dst)
}

// RestoreKey restores straight from an object key, for when the local
// backup records are gone along with the database.
func (m *Manager) RestoreKey(ctx context.Context, key, dst string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return ErrNotConfigured
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	sealed, err := io.ReadAll(result.Body)
	result.Body.Close()
	if err != nil {
		return fmt.Errorf("read download: %w", err)
	}

	plaintext, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	tmp := dst + ".restore"
	if err := os.WriteFile(tmp, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(tmp)

	if err := checkIntegrity(ctx, tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dst + "-wal")
	os.Remove(dst + "-shm")

	m.logger.Info("backup restored", "key", key, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Cleanup deletes backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.backups.DeleteOlderThan(ctx, before)
	if err != nil {
		return apperr.Store("delete old backups", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("old backups removed", "count", len(keys))
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/daostore/internal/model"
)

type BackupStore struct {
	db Querier
}

func NewBackupStore(db Querier) *BackupStore {
	return &BackupStore{db: db}
}

const backupCols = `id, filename, s3_key, size_bytes, status, error_message, started_at, completed_at`

func scanBackup(row scanner) (*model.Backup, error) {
	var b model.Backup
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.Filename, &b.S3Key, &b.SizeBytes, &b.Status, &b.ErrorMessage, &b.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func (s *BackupStore) Create(ctx context.Context, filename, s3Key string, now time.Time) (*model.Backup, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (filename, s3_key, status, started_at) VALUES (?, ?, ?, ?)`,
		filename, s3Key, model.BackupStatusPending, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BackupStore) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupCols+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

func (s *BackupStore) List(ctx context.Context, limit int) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupCols+` FROM backups ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) UpdateStatus(ctx context.Context, id int64, status model.BackupStatus, errorMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, error_message = ? WHERE id = ?`, status, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update backup status: %w", err)
	}
	return nil
}

func (s *BackupStore) UpdateCompleted(ctx context.Context, id, sizeBytes int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, size_bytes = ?, completed_at = ? WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update backup completed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes backup rows started before cutoff and returns
// their object keys so the caller can delete the uploads.
func (s *BackupStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s3_key FROM backups WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("select old backups: %w", err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan s3 key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE started_at < ?`, cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	return keys, nil
}

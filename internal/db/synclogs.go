package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSyncLog creates a new sync log entry.
func (db *DB) CreateSyncLog(log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, account_id, family, status, message,
		pulled, pushed, deleted, skipped, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, log.ID, log.AccountID, log.Family, log.Status, log.Message,
		log.Pulled, log.Pushed, log.Deleted, log.Skipped, log.Duration.Milliseconds(), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// GetSyncLogs returns sync logs for an account, newest first.
func (db *DB) GetSyncLogs(accountID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, account_id, family, status, message,
		pulled, pushed, deleted, skipped, duration_ms, created_at
		FROM sync_logs WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log := &SyncLog{}
		var durationMs int64
		err := rows.Scan(&log.ID, &log.AccountID, &log.Family, &log.Status, &log.Message,
			&log.Pulled, &log.Pushed, &log.Deleted, &log.Skipped, &durationMs, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		log.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}

// CleanOldSyncLogs deletes sync logs older than the given time.
func (db *DB) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM sync_logs WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

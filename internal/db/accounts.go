package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateOfficeAccount creates a new office account.
func (db *DB) CreateOfficeAccount(account *OfficeAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = time.Now().UTC()
	account.LastSyncStatus = SyncStatusPending

	query := `INSERT INTO office_accounts (
		id, user_id, name, refresh_token, enabled, last_sync_status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		account.ID, account.UserID, account.Name, account.RefreshToken,
		account.Enabled, account.LastSyncStatus, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create office account: %w", err)
	}

	return nil
}

// GetOfficeAccountByID returns an office account by its ID.
func (db *DB) GetOfficeAccountByID(id string) (*OfficeAccount, error) {
	query := accountSelect + ` WHERE id = ?`
	return scanAccount(db.conn.QueryRow(query, id))
}

// GetOfficeAccountsByUserID returns all office accounts of a user.
func (db *DB) GetOfficeAccountsByUserID(userID string) ([]*OfficeAccount, error) {
	query := accountSelect + ` WHERE user_id = ? ORDER BY name`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query office accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// GetEnabledOfficeAccounts returns all enabled office accounts.
func (db *DB) GetEnabledOfficeAccounts() ([]*OfficeAccount, error) {
	query := accountSelect + ` WHERE enabled = 1`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled office accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// UpdateOfficeAccount updates mutable account settings.
func (db *DB) UpdateOfficeAccount(account *OfficeAccount) error {
	account.UpdatedAt = time.Now().UTC()

	query := `UPDATE office_accounts SET name = ?, enabled = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, account.Name, account.Enabled, account.UpdatedAt, account.ID)
	if err != nil {
		return fmt.Errorf("failed to update office account: %w", err)
	}

	return requireAffected(result)
}

// UpdateRefreshToken persists a rotated refresh token. This must succeed
// before a refreshed access token is used, or the stored token goes stale.
func (db *DB) UpdateRefreshToken(accountID, refreshToken string) error {
	query := `UPDATE office_accounts SET refresh_token = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, refreshToken, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}

	return requireAffected(result)
}

// AdvanceLastSync moves the per-family last-sync mark to the given cycle
// start time. The mark only moves forward.
func (db *DB) AdvanceLastSync(accountID string, family SyncFamily, start time.Time) error {
	var column string
	switch family {
	case FamilyContacts:
		column = "last_contact_sync_at"
	case FamilyCalendars:
		column = "last_calendar_sync_at"
	case FamilyMail:
		column = "last_mail_sync_at"
	default:
		return fmt.Errorf("unknown sync family: %q", family)
	}

	query := fmt.Sprintf(`UPDATE office_accounts SET %s = ?, updated_at = ? WHERE id = ?`, column)

	result, err := db.conn.Exec(query, start.UTC(), time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to advance last sync: %w", err)
	}

	return requireAffected(result)
}

// UpdateAccountSyncStatus records the outcome of the most recent cycle.
func (db *DB) UpdateAccountSyncStatus(accountID string, status SyncStatus, message string) error {
	query := `UPDATE office_accounts SET last_sync_status = ?, last_sync_message = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, status, message, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account sync status: %w", err)
	}

	return requireAffected(result)
}

// DeleteOfficeAccount deletes an office account and all its synced children.
func (db *DB) DeleteOfficeAccount(id string) error {
	result, err := db.conn.Exec(`DELETE FROM office_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete office account: %w", err)
	}

	return requireAffected(result)
}

const accountSelect = `SELECT id, user_id, name, refresh_token, enabled,
	last_contact_sync_at, last_calendar_sync_at, last_mail_sync_at,
	last_sync_status, last_sync_message, created_at, updated_at
	FROM office_accounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountFields(row rowScanner) (*OfficeAccount, error) {
	account := &OfficeAccount{}
	var contactSync, calendarSync, mailSync sql.NullTime
	var message sql.NullString

	err := row.Scan(
		&account.ID, &account.UserID, &account.Name, &account.RefreshToken, &account.Enabled,
		&contactSync, &calendarSync, &mailSync,
		&account.LastSyncStatus, &message, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contactSync.Valid {
		account.LastContactSyncAt = &contactSync.Time
	}
	if calendarSync.Valid {
		account.LastCalendarSyncAt = &calendarSync.Time
	}
	if mailSync.Valid {
		account.LastMailSyncAt = &mailSync.Time
	}
	account.LastSyncMessage = message.String

	return account, nil
}

func scanAccount(row *sql.Row) (*OfficeAccount, error) {
	account, err := scanAccountFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan office account: %w", err)
	}
	return account, nil
}

func collectAccounts(rows *sql.Rows) ([]*OfficeAccount, error) {
	var accounts []*OfficeAccount
	for rows.Next() {
		account, err := scanAccountFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan office account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating office accounts: %w", err)
	}

	return accounts, nil
}

// requireAffected converts a zero-row update into ErrNotFound.
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

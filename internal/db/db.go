package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrDatabaseInit = errors.New("database initialization failed")
)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	// Open the database
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Configure connection pool limits to prevent resource exhaustion
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	// Configure SQLite for optimal performance and security
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}

	// Run migrations
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	// Set file permissions (0600 for security)
	if err := os.Chmod(dbPath, 0600); err != nil {
		// Log warning but don't fail - file might not exist yet in WAL mode
		_ = err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		// Users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Office accounts table
		`CREATE TABLE IF NOT EXISTS office_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_contact_sync_at DATETIME,
			last_calendar_sync_at DATETIME,
			last_mail_sync_at DATETIME,
			last_sync_status TEXT NOT NULL DEFAULT 'pending',
			last_sync_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_office_accounts_user_id ON office_accounts(user_id)`,

		// Email addresses, globally unique by address
		`CREATE TABLE IF NOT EXISTS email_addresses (
			id TEXT PRIMARY KEY,
			address TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			partner_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Email accounts synthesized for mail senders
		`CREATE TABLE IF NOT EXISTS email_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT UNIQUE NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 0,
			security TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT 'smtp',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Contact folders table
		`CREATE TABLE IF NOT EXISTS contact_folders (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			parent_folder_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, office365_id),
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contact_folders_account_id ON contact_folders(account_id)`,

		// Partners (contacts) table
		`CREATE TABLE IF NOT EXISTS partners (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			account_id TEXT NOT NULL,
			folder_id TEXT,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			company_name TEXT NOT NULL DEFAULT '',
			is_company INTEGER NOT NULL DEFAULT 0,
			parent_id TEXT,
			user_id TEXT,
			job_title TEXT NOT NULL DEFAULT '',
			mobile_phone TEXT NOT NULL DEFAULT '',
			fixed_phone TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			birthdate DATETIME,
			email_address_id TEXT,
			last_office_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, office365_id),
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_account_id ON partners(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_folder_id ON partners(folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_parent_id ON partners(parent_id)`,

		// Partner postal addresses
		`CREATE TABLE IF NOT EXISTS partner_addresses (
			id TEXT PRIMARY KEY,
			partner_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'home',
			street TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			zip TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			is_default INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (partner_id) REFERENCES partners(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_partner_addresses_partner_id ON partner_addresses(partner_id)`,

		// Calendars table
		`CREATE TABLE IF NOT EXISTS calendars (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			account_id TEXT NOT NULL,
			user_id TEXT,
			name TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			is_removable INTEGER NOT NULL DEFAULT 1,
			is_editable INTEGER NOT NULL DEFAULT 1,
			sync_mode TEXT NOT NULL DEFAULT 'crm',
			sync_weeks INTEGER NOT NULL DEFAULT 10,
			keep_remote INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			last_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, office365_id),
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendars_account_id ON calendars(account_id)`,

		// Events table
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			calendar_id TEXT NOT NULL,
			parent_event_id TEXT,
			subject TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			all_day INTEGER NOT NULL DEFAULT 0,
			visibility TEXT NOT NULL DEFAULT 'public',
			availability TEXT NOT NULL DEFAULT 'busy',
			location TEXT NOT NULL DEFAULT '',
			geo TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'planned',
			category TEXT NOT NULL DEFAULT '',
			is_organizer INTEGER NOT NULL DEFAULT 0,
			organizer_user_id TEXT,
			reminder_minutes INTEGER,
			last_office_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_calendar_id ON events(calendar_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_office365_id ON events(office365_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent_event_id ON events(parent_event_id)`,

		// Event attendees table
		`CREATE TABLE IF NOT EXISTS event_attendees (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			email_address_id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'required',
			UNIQUE(event_id, email_address_id),
			FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
			FOREIGN KEY (email_address_id) REFERENCES email_addresses(id)
		)`,

		// Recurrence rules table, one per recurring event
		`CREATE TABLE IF NOT EXISTS recurrence_rules (
			id TEXT PRIMARY KEY,
			event_id TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL,
			periodicity INTEGER NOT NULL DEFAULT 1,
			weekday_mask INTEGER NOT NULL DEFAULT 0,
			month_repeat_type TEXT NOT NULL DEFAULT 'month',
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			end_type TEXT NOT NULL DEFAULT 'date',
			count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
		)`,

		// Mail folders table
		`CREATE TABLE IF NOT EXISTS mail_folders (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			parent_folder_id TEXT NOT NULL DEFAULT '',
			is_hidden INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, office365_id),
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mail_folders_account_id ON mail_folders(account_id)`,

		// Messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			office365_id TEXT,
			account_id TEXT NOT NULL,
			folder_id TEXT,
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			sent_at DATETIME,
			received_at DATETIME,
			status TEXT NOT NULL DEFAULT 'draft',
			type TEXT NOT NULL DEFAULT 'received',
			from_email_id TEXT,
			sender_user_id TEXT,
			mail_account_id TEXT,
			last_office_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, office365_id),
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_folder_id ON messages(folder_id)`,

		// Message recipients table
		`CREATE TABLE IF NOT EXISTS message_recipients (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			email_address_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
			FOREIGN KEY (email_address_id) REFERENCES email_addresses(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_recipients_message_id ON message_recipients(message_id)`,

		// Batch jobs and their calendar links
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS batch_job_calendars (
			batch_job_id TEXT NOT NULL,
			calendar_id TEXT NOT NULL,
			PRIMARY KEY (batch_job_id, calendar_id),
			FOREIGN KEY (batch_job_id) REFERENCES batch_jobs(id) ON DELETE CASCADE,
			FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
		)`,

		// Sync logs table
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			family TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			pulled INTEGER NOT NULL DEFAULT 0,
			pushed INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (account_id) REFERENCES office_accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_account_id ON sync_logs(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,

		// Columns added after the initial schema
		`ALTER TABLE partners ADD COLUMN last_office_sync_at DATETIME`,
		`ALTER TABLE messages ADD COLUMN last_office_sync_at DATETIME`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// on error. Compound mutations use it so one bad record never leaves a
// partial write behind.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

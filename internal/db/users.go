package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateUser returns an existing user by email or creates a new one.
// The code defaults to the email when not provided.
func (db *DB) GetOrCreateUser(email, name string) (*User, error) {
	user, err := db.GetUserByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &User{
		ID:        uuid.New().String(),
		Code:      email,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO users (id, code, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(query, user.ID, user.Code, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// CreateUser creates a user with an explicit code. Used when synthesizing
// a user from a mail sender.
func (db *DB) CreateUser(user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO users (id, code, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, user.ID, user.Code, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByEmail returns a user by their email address.
func (db *DB) GetUserByEmail(email string) (*User, error) {
	return db.getUser(`SELECT id, code, email, name, created_at, updated_at FROM users WHERE email = ?`, email)
}

// GetUserByID returns a user by their ID.
func (db *DB) GetUserByID(id string) (*User, error) {
	return db.getUser(`SELECT id, code, email, name, created_at, updated_at FROM users WHERE id = ?`, id)
}

// GetUserByCode returns a user by their code.
func (db *DB) GetUserByCode(code string) (*User, error) {
	return db.getUser(`SELECT id, code, email, name, created_at, updated_at FROM users WHERE code = ?`, code)
}

func (db *DB) getUser(query string, arg any) (*User, error) {
	row := db.conn.QueryRow(query, arg)

	user := &User{}
	err := row.Scan(&user.ID, &user.Code, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetOrCreateEmailAddress returns the shared row for an address, creating
// it when absent. Addresses are globally unique; identical addresses on
// different records share one row.
func (db *DB) GetOrCreateEmailAddress(address, name string) (*EmailAddress, error) {
	email, err := db.GetEmailAddressByAddress(address)
	if err == nil {
		return email, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	email = &EmailAddress{
		ID:        uuid.New().String(),
		Address:   address,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO email_addresses (id, address, name, created_at) VALUES (?, ?, ?, ?)`
	_, err = db.conn.Exec(query, email.ID, email.Address, email.Name, email.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create email address: %w", err)
	}

	return email, nil
}

// GetEmailAddressByAddress returns the shared row for an address.
func (db *DB) GetEmailAddressByAddress(address string) (*EmailAddress, error) {
	query := `SELECT id, address, name, partner_id, created_at FROM email_addresses WHERE address = ?`
	row := db.conn.QueryRow(query, address)

	email := &EmailAddress{}
	var partnerID sql.NullString
	err := row.Scan(&email.ID, &email.Address, &email.Name, &partnerID, &email.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email address: %w", err)
	}
	email.PartnerID = partnerID.String

	return email, nil
}

// GetEmailAddressByID returns an email address row by its ID.
func (db *DB) GetEmailAddressByID(id string) (*EmailAddress, error) {
	query := `SELECT id, address, name, partner_id, created_at FROM email_addresses WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	email := &EmailAddress{}
	var partnerID sql.NullString
	err := row.Scan(&email.ID, &email.Address, &email.Name, &partnerID, &email.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email address: %w", err)
	}
	email.PartnerID = partnerID.String

	return email, nil
}

// BindEmailAddressToPartner sets the owning partner of an address.
func (db *DB) BindEmailAddressToPartner(emailID, partnerID string) error {
	result, err := db.conn.Exec(`UPDATE email_addresses SET partner_id = ? WHERE id = ?`, nullable(partnerID), emailID)
	if err != nil {
		return fmt.Errorf("failed to bind email address: %w", err)
	}
	return requireAffected(result)
}

// FindPartnerByEmail returns the partner bound to an address, excluding
// partners that back a user.
func (db *DB) FindPartnerByEmail(address string) (*Partner, error) {
	query := partnerSelect + ` WHERE p.email_address_id IN (
		SELECT id FROM email_addresses WHERE address = ?
	) AND p.user_id IS NULL LIMIT 1`
	return scanPartner(db.conn.QueryRow(query, address))
}

// GetOrCreateEmailAccount returns the outgoing mail account with the given
// name, creating it when absent.
func (db *DB) GetOrCreateEmailAccount(name, host, protocol string, userID string) (*EmailAccount, error) {
	query := `SELECT id, user_id, name, host, port, security, protocol, created_at FROM email_accounts WHERE name = ?`
	row := db.conn.QueryRow(query, name)

	account := &EmailAccount{}
	var uid sql.NullString
	err := row.Scan(&account.ID, &uid, &account.Name, &account.Host, &account.Port,
		&account.Security, &account.Protocol, &account.CreatedAt)
	if err == nil {
		account.UserID = uid.String
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get email account: %w", err)
	}

	account = &EmailAccount{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Host:      host,
		Protocol:  protocol,
		CreatedAt: time.Now().UTC(),
	}

	insert := `INSERT INTO email_accounts (id, user_id, name, host, port, security, protocol, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(insert, account.ID, nullable(account.UserID), account.Name,
		account.Host, account.Port, account.Security, account.Protocol, account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create email account: %w", err)
	}

	return account, nil
}

// nullable converts an empty string into a SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a nil time pointer into a SQL NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

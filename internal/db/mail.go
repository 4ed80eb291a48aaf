package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertMailFolder creates or updates a mail folder keyed by its remote id.
func (db *DB) UpsertMailFolder(folder *MailFolder) error {
	now := time.Now().UTC()

	query := `UPDATE mail_folders SET name = ?, parent_folder_id = ?, is_hidden = ?, updated_at = ?
		WHERE account_id = ? AND office365_id = ?`

	result, err := db.conn.Exec(query, folder.Name, folder.ParentFolderID, folder.IsHidden, now,
		folder.AccountID, folder.Office365ID)
	if err != nil {
		return fmt.Errorf("failed to update mail folder: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if folder.ID == "" {
			folder.ID = uuid.New().String()
		}
		folder.CreatedAt = now
		folder.UpdatedAt = now

		insert := `INSERT INTO mail_folders (id, office365_id, account_id, name, parent_folder_id, is_hidden, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = db.conn.Exec(insert, folder.ID, nullable(folder.Office365ID), folder.AccountID,
			folder.Name, folder.ParentFolderID, folder.IsHidden, folder.CreatedAt, folder.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert mail folder: %w", err)
		}
	}

	return nil
}

// GetMailFolderByRemoteID returns a mail folder by its remote id.
func (db *DB) GetMailFolderByRemoteID(accountID, office365ID string) (*MailFolder, error) {
	query := mailFolderSelect + ` WHERE account_id = ? AND office365_id = ?`
	return scanMailFolder(db.conn.QueryRow(query, accountID, office365ID))
}

// GetMailFolderByName returns a mail folder by its display name.
func (db *DB) GetMailFolderByName(accountID, name string) (*MailFolder, error) {
	query := mailFolderSelect + ` WHERE account_id = ? AND name = ?`
	return scanMailFolder(db.conn.QueryRow(query, accountID, name))
}

// GetMailFolderByID returns a mail folder by its local id.
func (db *DB) GetMailFolderByID(id string) (*MailFolder, error) {
	query := mailFolderSelect + ` WHERE id = ?`
	return scanMailFolder(db.conn.QueryRow(query, id))
}

// ListMailFolders returns all mail folders of an account.
func (db *DB) ListMailFolders(accountID string) ([]*MailFolder, error) {
	query := mailFolderSelect + ` WHERE account_id = ? ORDER BY name`

	rows, err := db.conn.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mail folders: %w", err)
	}
	defer rows.Close()

	var folders []*MailFolder
	for rows.Next() {
		folder, err := scanMailFolderFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mail folder: %w", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mail folders: %w", err)
	}

	return folders, nil
}

// GetMessageByRemoteID returns a message by its remote id.
func (db *DB) GetMessageByRemoteID(accountID, office365ID string) (*Message, error) {
	query := messageSelect + ` WHERE account_id = ? AND office365_id = ?`
	return scanMessage(db.conn.QueryRow(query, accountID, office365ID))
}

// GetMessageByID returns a message by its local id.
func (db *DB) GetMessageByID(id string) (*Message, error) {
	query := messageSelect + ` WHERE id = ?`
	return scanMessage(db.conn.QueryRow(query, id))
}

// SaveMessage inserts or updates a message by its local id.
func (db *DB) SaveMessage(message *Message) error {
	now := time.Now().UTC()

	if message.ID == "" {
		message.ID = uuid.New().String()
		message.CreatedAt = now
		message.UpdatedAt = now

		query := `INSERT INTO messages (
			id, office365_id, account_id, folder_id, subject, content, sent_at, received_at,
			status, type, from_email_id, sender_user_id, mail_account_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := db.conn.Exec(query,
			message.ID, nullable(message.Office365ID), message.AccountID, nullable(message.FolderID),
			message.Subject, message.Content, nullableTime(message.SentAt), nullableTime(message.ReceivedAt),
			message.Status, message.Type, nullable(message.FromEmailID), nullable(message.SenderUserID),
			nullable(message.MailAccountID), message.CreatedAt, message.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	}

	message.UpdatedAt = now
	query := `UPDATE messages SET
		office365_id = ?, folder_id = ?, subject = ?, content = ?, sent_at = ?, received_at = ?,
		status = ?, type = ?, from_email_id = ?, sender_user_id = ?, mail_account_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		nullable(message.Office365ID), nullable(message.FolderID), message.Subject, message.Content,
		nullableTime(message.SentAt), nullableTime(message.ReceivedAt),
		message.Status, message.Type, nullable(message.FromEmailID), nullable(message.SenderUserID),
		nullable(message.MailAccountID), message.UpdatedAt, message.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return requireAffected(result)
}

// TouchMessageSynced updates a message's remote id, folder, and sync stamp
// without bumping updated_at, so neither a pull nor a push re-dirties the
// record.
func (db *DB) TouchMessageSynced(messageID, office365ID, folderID string) error {
	result, err := db.conn.Exec(`UPDATE messages SET office365_id = ?, folder_id = ?, last_office_sync_at = ? WHERE id = ?`,
		nullable(office365ID), nullable(folderID), time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("failed to stamp message synced: %w", err)
	}
	return requireAffected(result)
}

// ListDirtyMessages returns draft messages needing a push this cycle.
func (db *DB) ListDirtyMessages(accountID string, lastSync *time.Time, start time.Time) ([]*Message, error) {
	query := messageSelect + ` WHERE account_id = ? AND status IN (?, ?) AND (` + dirtyPredicate("messages") + `)`
	args := []any{accountID, MessageStatusDraft, MessageStatusInProgress}
	args = append(args, dirtyArgs("", lastSync, start)[1:]...)
	return db.queryMessages(query, args...)
}

// DeleteMessageCascade clears the remote id and deletes the message with
// its recipient rows in one transaction.
func (db *DB) DeleteMessageCascade(messageID string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE messages SET office365_id = NULL WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("failed to clear message remote id: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM message_recipients WHERE message_id = ?`, messageID); err != nil {
			return fmt.Errorf("failed to delete message recipients: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
}

// ReplaceMessageRecipients replaces the recipient lists of a message.
func (db *DB) ReplaceMessageRecipients(messageID string, recipients []*MessageRecipient) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM message_recipients WHERE message_id = ?`, messageID); err != nil {
			return fmt.Errorf("failed to clear message recipients: %w", err)
		}
		for _, recipient := range recipients {
			if recipient.ID == "" {
				recipient.ID = uuid.New().String()
			}
			recipient.MessageID = messageID
			_, err := tx.Exec(`INSERT INTO message_recipients (id, message_id, email_address_id, kind)
				VALUES (?, ?, ?, ?)`,
				recipient.ID, recipient.MessageID, recipient.EmailAddressID, recipient.Kind)
			if err != nil {
				return fmt.Errorf("failed to insert message recipient: %w", err)
			}
		}
		return nil
	})
}

// ListMessageRecipients returns the recipients of a message with their
// addresses joined in.
func (db *DB) ListMessageRecipients(messageID string) ([]*MessageRecipient, error) {
	query := `SELECT r.id, r.message_id, r.email_address_id, r.kind, e.address, e.name
		FROM message_recipients r JOIN email_addresses e ON e.id = r.email_address_id
		WHERE r.message_id = ?`

	rows, err := db.conn.Query(query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query message recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*MessageRecipient
	for rows.Next() {
		recipient := &MessageRecipient{}
		err := rows.Scan(&recipient.ID, &recipient.MessageID, &recipient.EmailAddressID,
			&recipient.Kind, &recipient.Address, &recipient.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message recipients: %w", err)
	}

	return recipients, nil
}

func (db *DB) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		message, err := scanMessageFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

const mailFolderSelect = `SELECT id, office365_id, account_id, name, parent_folder_id, is_hidden, created_at, updated_at
	FROM mail_folders`

func scanMailFolderFields(row rowScanner) (*MailFolder, error) {
	folder := &MailFolder{}
	var remoteID sql.NullString
	err := row.Scan(&folder.ID, &remoteID, &folder.AccountID, &folder.Name,
		&folder.ParentFolderID, &folder.IsHidden, &folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return nil, err
	}
	folder.Office365ID = remoteID.String
	return folder, nil
}

func scanMailFolder(row *sql.Row) (*MailFolder, error) {
	folder, err := scanMailFolderFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mail folder: %w", err)
	}
	return folder, nil
}

const messageSelect = `SELECT id, office365_id, account_id, folder_id, subject, content,
	sent_at, received_at, status, type, from_email_id, sender_user_id, mail_account_id,
	created_at, updated_at
	FROM messages`

func scanMessageFields(row rowScanner) (*Message, error) {
	message := &Message{}
	var remoteID, folderID, fromID, senderID, mailAccountID sql.NullString
	var sentAt, receivedAt sql.NullTime

	err := row.Scan(
		&message.ID, &remoteID, &message.AccountID, &folderID, &message.Subject, &message.Content,
		&sentAt, &receivedAt, &message.Status, &message.Type,
		&fromID, &senderID, &mailAccountID, &message.CreatedAt, &message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	message.Office365ID = remoteID.String
	message.FolderID = folderID.String
	message.FromEmailID = fromID.String
	message.SenderUserID = senderID.String
	message.MailAccountID = mailAccountID.String
	if sentAt.Valid {
		message.SentAt = &sentAt.Time
	}
	if receivedAt.Valid {
		message.ReceivedAt = &receivedAt.Time
	}

	return message, nil
}

func scanMessage(row *sql.Row) (*Message, error) {
	message, err := scanMessageFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return message, nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertContactFolder creates or updates a contact folder keyed by its
// remote id within the account.
func (db *DB) UpsertContactFolder(folder *ContactFolder) error {
	now := time.Now().UTC()

	query := `UPDATE contact_folders SET name = ?, parent_folder_id = ?, updated_at = ?
		WHERE account_id = ? AND office365_id = ?`

	result, err := db.conn.Exec(query, folder.Name, folder.ParentFolderID, now,
		folder.AccountID, folder.Office365ID)
	if err != nil {
		return fmt.Errorf("failed to update contact folder: %w", err)
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

		insert := `INSERT INTO contact_folders (id, office365_id, account_id, name, parent_folder_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		_, err = db.conn.Exec(insert, folder.ID, nullable(folder.Office365ID), folder.AccountID,
			folder.Name, folder.ParentFolderID, folder.CreatedAt, folder.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert contact folder: %w", err)
		}
	}

	return nil
}

// GetContactFolderByRemoteID returns a folder by its remote id.
func (db *DB) GetContactFolderByRemoteID(accountID, office365ID string) (*ContactFolder, error) {
	query := folderSelect + ` WHERE account_id = ? AND office365_id = ?`
	return scanContactFolder(db.conn.QueryRow(query, accountID, office365ID))
}

// GetContactFolderByName returns a folder by its display name.
func (db *DB) GetContactFolderByName(accountID, name string) (*ContactFolder, error) {
	query := folderSelect + ` WHERE account_id = ? AND name = ?`
	return scanContactFolder(db.conn.QueryRow(query, accountID, name))
}

// GetContactFolderByID returns a folder by its local id.
func (db *DB) GetContactFolderByID(id string) (*ContactFolder, error) {
	query := folderSelect + ` WHERE id = ?`
	return scanContactFolder(db.conn.QueryRow(query, id))
}

// CreateContactFolder creates a folder row directly. Used for the default
// folder which may exist before Graph ever returned it.
func (db *DB) CreateContactFolder(folder *ContactFolder) error {
	if folder.ID == "" {
		folder.ID = uuid.New().String()
	}
	folder.CreatedAt = time.Now().UTC()
	folder.UpdatedAt = folder.CreatedAt

	query := `INSERT INTO contact_folders (id, office365_id, account_id, name, parent_folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, folder.ID, nullable(folder.Office365ID), folder.AccountID,
		folder.Name, folder.ParentFolderID, folder.CreatedAt, folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contact folder: %w", err)
	}

	return nil
}

// BindContactFolderRemoteID lazily attaches a remote id to a folder that
// was created locally (typically the default folder).
func (db *DB) BindContactFolderRemoteID(folderID, office365ID string) error {
	query := `UPDATE contact_folders SET office365_id = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, office365ID, time.Now().UTC(), folderID)
	if err != nil {
		return fmt.Errorf("failed to bind contact folder remote id: %w", err)
	}
	return requireAffected(result)
}

// ListContactFolders returns all folders of an account.
func (db *DB) ListContactFolders(accountID string) ([]*ContactFolder, error) {
	query := folderSelect + ` WHERE account_id = ? ORDER BY name`

	rows, err := db.conn.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact folders: %w", err)
	}
	defer rows.Close()

	var folders []*ContactFolder
	for rows.Next() {
		folder, err := scanContactFolderFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact folder: %w", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contact folders: %w", err)
	}

	return folders, nil
}

// DeleteContactFolderCascade removes a folder and every partner inside it
// in one transaction.
func (db *DB) DeleteContactFolderCascade(folderID string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE partners SET parent_id = NULL WHERE parent_id IN (SELECT id FROM partners WHERE folder_id = ?)`, folderID); err != nil {
			return fmt.Errorf("failed to detach folder contacts: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM partners WHERE folder_id = ?`, folderID); err != nil {
			return fmt.Errorf("failed to delete folder contacts: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM contact_folders WHERE id = ?`, folderID); err != nil {
			return fmt.Errorf("failed to delete contact folder: %w", err)
		}
		return nil
	})
}

// GetPartnerByRemoteID returns a partner by its remote id.
func (db *DB) GetPartnerByRemoteID(accountID, office365ID string) (*Partner, error) {
	query := partnerSelect + ` WHERE p.account_id = ? AND p.office365_id = ?`
	return scanPartner(db.conn.QueryRow(query, accountID, office365ID))
}

// GetPartnerByID returns a partner by its local id.
func (db *DB) GetPartnerByID(id string) (*Partner, error) {
	query := partnerSelect + ` WHERE p.id = ?`
	return scanPartner(db.conn.QueryRow(query, id))
}

// GetCompanyByName returns a company partner by its full name. Children
// sharing a company name attach to the same synthetic parent.
func (db *DB) GetCompanyByName(accountID, name string) (*Partner, error) {
	query := partnerSelect + ` WHERE p.account_id = ? AND p.is_company = 1 AND p.full_name = ?`
	return scanPartner(db.conn.QueryRow(query, accountID, name))
}

// SavePartner inserts or updates a partner by its local id.
func (db *DB) SavePartner(partner *Partner) error {
	now := time.Now().UTC()

	if partner.ID == "" {
		partner.ID = uuid.New().String()
		partner.CreatedAt = now
		partner.UpdatedAt = now

		query := `INSERT INTO partners (
			id, office365_id, account_id, folder_id, first_name, last_name, full_name, title,
			company_name, is_company, parent_id, user_id, job_title, mobile_phone, fixed_phone,
			description, birthdate, email_address_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := db.conn.Exec(query,
			partner.ID, nullable(partner.Office365ID), partner.AccountID, nullable(partner.FolderID),
			partner.FirstName, partner.LastName, partner.FullName, partner.Title,
			partner.CompanyName, partner.IsCompany, nullable(partner.ParentID), nullable(partner.UserID),
			partner.JobTitle, partner.MobilePhone, partner.FixedPhone, partner.Description,
			nullableTime(partner.Birthdate), nullable(partner.EmailAddressID),
			partner.CreatedAt, partner.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert partner: %w", err)
		}
		return nil
	}

	partner.UpdatedAt = now
	query := `UPDATE partners SET
		office365_id = ?, folder_id = ?, first_name = ?, last_name = ?, full_name = ?, title = ?,
		company_name = ?, is_company = ?, parent_id = ?, user_id = ?, job_title = ?,
		mobile_phone = ?, fixed_phone = ?, description = ?, birthdate = ?, email_address_id = ?,
		updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		nullable(partner.Office365ID), nullable(partner.FolderID),
		partner.FirstName, partner.LastName, partner.FullName, partner.Title,
		partner.CompanyName, partner.IsCompany, nullable(partner.ParentID), nullable(partner.UserID),
		partner.JobTitle, partner.MobilePhone, partner.FixedPhone, partner.Description,
		nullableTime(partner.Birthdate), nullable(partner.EmailAddressID),
		partner.UpdatedAt, partner.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update partner: %w", err)
	}

	return requireAffected(result)
}

// TouchPartnerSynced updates a partner's remote id and sync stamp without
// bumping updated_at, so neither a pull nor a push marks the record dirty
// for the next cycle.
func (db *DB) TouchPartnerSynced(partnerID, office365ID string) error {
	result, err := db.conn.Exec(`UPDATE partners SET office365_id = ?, last_office_sync_at = ? WHERE id = ?`,
		nullable(office365ID), time.Now().UTC(), partnerID)
	if err != nil {
		return fmt.Errorf("failed to stamp partner synced: %w", err)
	}
	return requireAffected(result)
}

// ListPartnersByFolder returns all partners in a local folder.
func (db *DB) ListPartnersByFolder(folderID string) ([]*Partner, error) {
	query := partnerSelect + ` WHERE p.folder_id = ?`
	return db.queryPartners(query, folderID)
}

// ListPartnerRemoteIDs returns the non-null remote ids of an account's
// partners, excluding synthetic companies.
func (db *DB) ListPartnerRemoteIDs(accountID string) ([]string, error) {
	query := `SELECT office365_id FROM partners
		WHERE account_id = ? AND office365_id IS NOT NULL AND office365_id NOT LIKE ?`

	rows, err := db.conn.Query(query, accountID, CompanyIDPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query partner remote ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan partner remote id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partner remote ids: %w", err)
	}

	return ids, nil
}

// ListDirtyPartners returns partners needing a push this cycle: never
// synced, or changed in the [lastSync, start] interval. Synthetic
// companies are excluded.
func (db *DB) ListDirtyPartners(accountID string, lastSync *time.Time, start time.Time) ([]*Partner, error) {
	query := partnerSelect + ` WHERE p.account_id = ? AND p.is_company = 0 AND (` + dirtyPredicate("p") + `)`
	return db.queryPartners(query, dirtyArgs(accountID, lastSync, start)...)
}

func (db *DB) queryPartners(query string, args ...any) ([]*Partner, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query partners: %w", err)
	}
	defer rows.Close()

	var partners []*Partner
	for rows.Next() {
		partner, err := scanPartnerFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		partners = append(partners, partner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partners: %w", err)
	}

	return partners, nil
}

// CountCompanyChildren counts partners attached to a company parent.
func (db *DB) CountCompanyChildren(parentID string) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM partners WHERE parent_id = ?`, parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count company children: %w", err)
	}
	return count, nil
}

// DeletePartnerCascade detaches a partner from its parent, clears the
// remote id, deletes the row, and removes a now-empty synthetic company
// parent, all in one transaction.
func (db *DB) DeletePartnerCascade(partnerID string) error {
	partner, err := db.GetPartnerByID(partnerID)
	if err != nil {
		return err
	}

	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE email_addresses SET partner_id = NULL WHERE partner_id = ?`, partnerID); err != nil {
			return fmt.Errorf("failed to unbind partner emails: %w", err)
		}
		if _, err := tx.Exec(`UPDATE partners SET parent_id = NULL, office365_id = NULL WHERE id = ?`, partnerID); err != nil {
			return fmt.Errorf("failed to detach partner: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM partners WHERE id = ?`, partnerID); err != nil {
			return fmt.Errorf("failed to delete partner: %w", err)
		}

		// A synthetic company that lost its last child goes with it.
		if partner.ParentID != "" {
			var remaining int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM partners WHERE parent_id = ?`, partner.ParentID).Scan(&remaining); err != nil {
				return fmt.Errorf("failed to count siblings: %w", err)
			}
			if remaining == 0 {
				var parentRemoteID sql.NullString
				err := tx.QueryRow(`SELECT office365_id FROM partners WHERE id = ?`, partner.ParentID).Scan(&parentRemoteID)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("failed to load company parent: %w", err)
				}
				if err == nil && len(parentRemoteID.String) > len(CompanyIDPrefix) &&
					parentRemoteID.String[:len(CompanyIDPrefix)] == CompanyIDPrefix {
					if _, err := tx.Exec(`DELETE FROM partners WHERE id = ?`, partner.ParentID); err != nil {
						return fmt.Errorf("failed to delete empty company: %w", err)
					}
				}
			}
		}

		return nil
	})
}

// ReplacePartnerAddresses replaces all postal addresses of a partner.
func (db *DB) ReplacePartnerAddresses(partnerID string, addresses []*PartnerAddress) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM partner_addresses WHERE partner_id = ?`, partnerID); err != nil {
			return fmt.Errorf("failed to clear partner addresses: %w", err)
		}
		for _, addr := range addresses {
			if addr.ID == "" {
				addr.ID = uuid.New().String()
			}
			addr.PartnerID = partnerID
			_, err := tx.Exec(`INSERT INTO partner_addresses (id, partner_id, kind, street, city, state, zip, country, is_default)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				addr.ID, addr.PartnerID, addr.Kind, addr.Street, addr.City, addr.State, addr.Zip, addr.Country, addr.IsDefault)
			if err != nil {
				return fmt.Errorf("failed to insert partner address: %w", err)
			}
		}
		return nil
	})
}

// ListPartnerAddresses returns the postal addresses of a partner.
func (db *DB) ListPartnerAddresses(partnerID string) ([]*PartnerAddress, error) {
	query := `SELECT id, partner_id, kind, street, city, state, zip, country, is_default
		FROM partner_addresses WHERE partner_id = ? ORDER BY is_default DESC, kind`

	rows, err := db.conn.Query(query, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query partner addresses: %w", err)
	}
	defer rows.Close()

	var addresses []*PartnerAddress
	for rows.Next() {
		addr := &PartnerAddress{}
		err := rows.Scan(&addr.ID, &addr.PartnerID, &addr.Kind, &addr.Street, &addr.City,
			&addr.State, &addr.Zip, &addr.Country, &addr.IsDefault)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner address: %w", err)
		}
		addresses = append(addresses, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partner addresses: %w", err)
	}

	return addresses, nil
}

const folderSelect = `SELECT id, office365_id, account_id, name, parent_folder_id, created_at, updated_at
	FROM contact_folders`

func scanContactFolderFields(row rowScanner) (*ContactFolder, error) {
	folder := &ContactFolder{}
	var remoteID sql.NullString
	err := row.Scan(&folder.ID, &remoteID, &folder.AccountID, &folder.Name,
		&folder.ParentFolderID, &folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return nil, err
	}
	folder.Office365ID = remoteID.String
	return folder, nil
}

func scanContactFolder(row *sql.Row) (*ContactFolder, error) {
	folder, err := scanContactFolderFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact folder: %w", err)
	}
	return folder, nil
}

const partnerSelect = `SELECT p.id, p.office365_id, p.account_id, p.folder_id,
	p.first_name, p.last_name, p.full_name, p.title, p.company_name, p.is_company,
	p.parent_id, p.user_id, p.job_title, p.mobile_phone, p.fixed_phone, p.description,
	p.birthdate, p.email_address_id, p.created_at, p.updated_at
	FROM partners p`

func scanPartnerFields(row rowScanner) (*Partner, error) {
	partner := &Partner{}
	var remoteID, folderID, parentID, userID, emailID sql.NullString
	var birthdate sql.NullTime

	err := row.Scan(
		&partner.ID, &remoteID, &partner.AccountID, &folderID,
		&partner.FirstName, &partner.LastName, &partner.FullName, &partner.Title,
		&partner.CompanyName, &partner.IsCompany, &parentID, &userID,
		&partner.JobTitle, &partner.MobilePhone, &partner.FixedPhone, &partner.Description,
		&birthdate, &emailID, &partner.CreatedAt, &partner.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	partner.Office365ID = remoteID.String
	partner.FolderID = folderID.String
	partner.ParentID = parentID.String
	partner.UserID = userID.String
	partner.EmailAddressID = emailID.String
	if birthdate.Valid {
		partner.Birthdate = &birthdate.Time
	}

	return partner, nil
}

func scanPartner(row *sql.Row) (*Partner, error) {
	partner, err := scanPartnerFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan partner: %w", err)
	}
	return partner, nil
}

// dirtyPredicate builds the shared "needs push" filter over a table
// alias: never synced, or changed within [lastSync, start]. Bind with
// dirtyArgs. The last_office_sync_at guard keeps a record that was only
// written by a pull or push from looking dirty on the next cycle; a
// genuine local edit bumps updated_at past the stamp.
func dirtyPredicate(alias string) string {
	return fmt.Sprintf(`(%[1]s.office365_id IS NULL
		OR (? IS NULL AND %[1]s.created_at < ?)
		OR (? IS NOT NULL AND COALESCE(%[1]s.updated_at, %[1]s.created_at) >= COALESCE(?, %[1]s.created_at)
			AND COALESCE(%[1]s.updated_at, %[1]s.created_at) <= ?))
		AND (%[1]s.last_office_sync_at IS NULL
			OR %[1]s.last_office_sync_at < COALESCE(%[1]s.updated_at, %[1]s.created_at))`, alias)
}

func dirtyArgs(ownerID string, lastSync *time.Time, start time.Time) []any {
	ls := nullableTime(lastSync)
	return []any{ownerID, ls, start.UTC(), ls, ls, start.UTC()}
}

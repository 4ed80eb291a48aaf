package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// defaultContactFolderName is the display name Graph gives the built-in
// contacts folder. The local row for it exists before Graph ever
// returned the folder, so its remote id is bound lazily from the first
// contact seen inside it.
const defaultContactFolderName = "Contacts"

func (c *cycle) runContacts(ctx context.Context) error {
	seen := make(map[string]bool)
	remoteFolders := make(map[string]bool)

	complete, err := c.pullContactFolders(ctx, "me/contactFolders", remoteFolders, seen)
	if err != nil {
		return err
	}

	folder, err := c.defaultContactFolder()
	if err != nil {
		return err
	}
	records, err := c.client.FetchAll(ctx, "me/contacts", c.engine.opts.PageSize, nil)
	if err != nil {
		if fatal(err) {
			return err
		}
		c.failf("fetch default folder contacts: %v", err)
		complete = false
	} else {
		c.pullContacts(folder, records, seen, true)
	}

	c.sweepContactFolders(remoteFolders)
	// Only sweep when every contact listing succeeded. A failed folder
	// fetch leaves seen incomplete and sweeping on it would delete
	// partners that still exist remotely.
	if complete {
		if err := c.sweepContacts(seen); err != nil {
			return err
		}
	}

	return c.pushContacts(ctx)
}

// pullContactFolders walks the remote folder tree, recursing into
// children, pulling each folder's contacts as it goes. The returned
// flag reports whether every contact listing succeeded; the caller must
// not sweep on a partial seen set.
func (c *cycle) pullContactFolders(ctx context.Context, path string, remoteFolders, seen map[string]bool) (bool, error) {
	folders, err := c.client.FetchAll(ctx, path, c.engine.opts.PageSize, nil)
	if err != nil {
		return false, err
	}

	complete := true
	for _, record := range folders {
		if isRemoved(record) {
			continue
		}
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		remoteFolders[remoteID] = true

		folder := &db.ContactFolder{
			Office365ID:    remoteID,
			AccountID:      c.account.ID,
			Name:           graph.Str(record, "displayName"),
			ParentFolderID: graph.Str(record, "parentFolderId"),
		}
		if err := c.engine.db.UpsertContactFolder(folder); err != nil {
			c.failf("save contact folder %s: %v", folder.Name, err)
			complete = false
			continue
		}
		local, err := c.engine.db.GetContactFolderByRemoteID(c.account.ID, remoteID)
		if err != nil {
			c.failf("load contact folder %s: %v", folder.Name, err)
			complete = false
			continue
		}

		contacts, err := c.client.FetchAll(ctx, "me/contactFolders/"+remoteID+"/contacts", c.engine.opts.PageSize, nil)
		if err != nil {
			if fatal(err) {
				return false, err
			}
			c.failf("fetch contacts of folder %s: %v", local.Name, err)
			complete = false
		} else {
			c.pullContacts(local, contacts, seen, false)
		}

		if count, ok := graph.Int(record, "childFolderCount"); ok && count > 0 {
			childComplete, err := c.pullContactFolders(ctx, "me/contactFolders/"+remoteID+"/childFolders", remoteFolders, seen)
			if err != nil {
				return false, err
			}
			if !childComplete {
				complete = false
			}
		}
	}

	return complete, nil
}

// defaultContactFolder loads or creates the local row for the built-in
// folder.
func (c *cycle) defaultContactFolder() (*db.ContactFolder, error) {
	folder, err := c.engine.db.GetContactFolderByName(c.account.ID, defaultContactFolderName)
	if errors.Is(err, db.ErrNotFound) {
		folder = &db.ContactFolder{AccountID: c.account.ID, Name: defaultContactFolderName}
		if err := c.engine.db.CreateContactFolder(folder); err != nil {
			return nil, err
		}
		return folder, nil
	}
	return folder, err
}

func (c *cycle) pullContacts(folder *db.ContactFolder, records []map[string]any, seen map[string]bool, lazyBind bool) {
	for _, record := range records {
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		if isRemoved(record) {
			c.removeContactByRemoteID(remoteID)
			continue
		}
		seen[remoteID] = true

		if lazyBind && folder.Office365ID == "" {
			if parent := graph.Str(record, "parentFolderId"); parent != "" {
				if err := c.engine.db.BindContactFolderRemoteID(folder.ID, parent); err != nil {
					c.failf("bind default contact folder: %v", err)
				} else {
					folder.Office365ID = parent
				}
			}
		}

		if err := c.pullContact(folder, record, remoteID); err != nil {
			c.failf("pull contact %s: %v", remoteID, err)
		}
	}
}

func (c *cycle) pullContact(folder *db.ContactFolder, record map[string]any, remoteID string) error {
	database := c.engine.db

	partner, err := database.GetPartnerByRemoteID(c.account.ID, remoteID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	created, _ := graph.Time(record, "createdDateTime", time.UTC)
	modified, _ := graph.Time(record, "lastModifiedDateTime", time.UTC)
	if partner != nil {
		local := LocalStamps{CreatedOn: partner.CreatedAt, UpdatedOn: partner.UpdatedAt}
		if !NeedsPull(RemoteStamps{Created: created, Modified: modified}, local, c.lastSync) {
			c.result.Skipped++
			return nil
		}
	} else {
		partner = &db.Partner{AccountID: c.account.ID, Office365ID: remoteID}
	}

	mapContact(record, partner)
	partner.FolderID = folder.ID

	var emails []map[string]any
	for _, entry := range graph.Children(record, "emailAddresses") {
		if graph.Str(entry, "address") != "" {
			emails = append(emails, entry)
		}
	}
	if len(emails) > 0 {
		primary, err := database.GetOrCreateEmailAddress(
			graph.Str(emails[0], "address"), graph.Str(emails[0], "name"))
		if err != nil {
			return err
		}
		partner.EmailAddressID = primary.ID
	}

	if err := database.SavePartner(partner); err != nil {
		return err
	}

	for _, entry := range emails {
		address, err := database.GetOrCreateEmailAddress(
			graph.Str(entry, "address"), graph.Str(entry, "name"))
		if err != nil {
			continue
		}
		if err := database.BindEmailAddressToPartner(address.ID, partner.ID); err != nil {
			c.failf("bind email %s: %v", address.Address, err)
		}
	}

	if addresses := contactAddresses(record); addresses != nil {
		if err := database.ReplacePartnerAddresses(partner.ID, addresses); err != nil {
			return err
		}
	}

	if err := c.ensureCompany(partner); err != nil {
		return err
	}

	// Stamp after the saves so the pull itself does not look like a
	// local edit on the next cycle.
	if err := database.TouchPartnerSynced(partner.ID, partner.Office365ID); err != nil {
		return err
	}

	c.result.Pulled++
	return nil
}

// mapContact copies Graph contact fields onto a partner.
func mapContact(record map[string]any, partner *db.Partner) {
	partner.FirstName = graph.Str(record, "givenName")
	partner.LastName = graph.Str(record, "surname")
	partner.FullName = graph.Str(record, "displayName")
	if partner.FullName == "" {
		partner.FullName = strings.TrimSpace(partner.FirstName + " " + partner.LastName)
	}
	partner.Title = civilityFromTitle(graph.Str(record, "title"))
	partner.CompanyName = graph.Str(record, "companyName")
	partner.JobTitle = graph.Str(record, "jobTitle")
	partner.MobilePhone = graph.Str(record, "mobilePhone")
	partner.FixedPhone = firstString(record, "homePhones")
	partner.Description = graph.Str(record, "personalNotes")

	if birthday, err := graph.Time(record, "birthday", time.UTC); err == nil && !birthday.IsZero() {
		partner.Birthdate = &birthday
	}
}

// civilityFromTitle normalizes a free-form title into one of the four
// civility codes, empty when unrecognized.
func civilityFromTitle(title string) string {
	switch value := strings.ToLower(strings.TrimSpace(title)); {
	case value == "m." || value == "ms." || value == "dr." || value == "prof.":
		return value
	case strings.HasPrefix(value, "mrs") || strings.HasPrefix(value, "ms") || strings.HasPrefix(value, "miss"):
		return "ms."
	case strings.HasPrefix(value, "mr"):
		return "m."
	case strings.HasPrefix(value, "dr"):
		return "dr."
	case strings.HasPrefix(value, "prof"):
		return "prof."
	}
	return ""
}

// firstString reads the first entry of a string array field.
func firstString(record map[string]any, key string) string {
	raw, _ := record[key].([]any)
	for _, entry := range raw {
		if value, ok := entry.(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func contactAddresses(record map[string]any) []*db.PartnerAddress {
	kinds := []struct {
		key  string
		kind db.AddressKind
	}{
		{"homeAddress", db.AddressHome},
		{"businessAddress", db.AddressBusiness},
		{"otherAddress", db.AddressOther},
	}

	var addresses []*db.PartnerAddress
	for _, slot := range kinds {
		obj := graph.Child(record, slot.key)
		if obj == nil {
			continue
		}
		addr := &db.PartnerAddress{
			Kind:    slot.kind,
			Street:  graph.Str(obj, "street"),
			City:    graph.Str(obj, "city"),
			State:   graph.Str(obj, "state"),
			Zip:     graph.Str(obj, "postalCode"),
			Country: graph.Str(obj, "countryOrRegion"),
		}
		if addr.Street == "" && addr.City == "" && addr.Zip == "" && addr.Country == "" {
			continue
		}
		addr.IsDefault = slot.kind == db.AddressHome
		addresses = append(addresses, addr)
	}
	return addresses
}

// ensureCompany maintains the synthetic company parent derived from a
// contact's companyName: children sharing a name share one parent, and
// a parent losing its last child is removed with it.
func (c *cycle) ensureCompany(partner *db.Partner) error {
	database := c.engine.db
	if partner.IsCompany {
		return nil
	}

	if strings.TrimSpace(partner.CompanyName) == "" {
		if partner.ParentID == "" {
			return nil
		}
		parentID := partner.ParentID
		partner.ParentID = ""
		if err := database.SavePartner(partner); err != nil {
			return err
		}
		count, err := database.CountCompanyChildren(parentID)
		if err != nil {
			return err
		}
		if count == 0 {
			parent, err := database.GetPartnerByID(parentID)
			if err == nil && parent.IsSyntheticCompany() {
				return database.DeletePartnerCascade(parent.ID)
			}
		}
		return nil
	}

	company, err := database.GetCompanyByName(c.account.ID, partner.CompanyName)
	if errors.Is(err, db.ErrNotFound) {
		key := partner.Office365ID
		if key == "" {
			key = partner.ID
		}
		company = &db.Partner{
			AccountID:   c.account.ID,
			Office365ID: db.CompanyIDPrefix + key,
			FolderID:    partner.FolderID,
			FullName:    partner.CompanyName,
			CompanyName: partner.CompanyName,
			IsCompany:   true,
		}
		if err := database.SavePartner(company); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if partner.ParentID != company.ID {
		partner.ParentID = company.ID
		return database.SavePartner(partner)
	}
	return nil
}

// sweepContactFolders removes local folders whose remote counterpart is
// gone. The default folder is never swept.
func (c *cycle) sweepContactFolders(remoteFolders map[string]bool) {
	folders, err := c.engine.db.ListContactFolders(c.account.ID)
	if err != nil {
		c.failf("list contact folders: %v", err)
		return
	}
	for _, folder := range folders {
		if folder.Office365ID == "" || folder.Name == defaultContactFolderName {
			continue
		}
		if remoteFolders[folder.Office365ID] {
			continue
		}
		if err := c.engine.db.DeleteContactFolderCascade(folder.ID); err != nil {
			c.failf("delete contact folder %s: %v", folder.Name, err)
			continue
		}
		c.result.Deleted++
	}
}

// sweepContacts removes local partners whose remote id was not seen
// this cycle.
func (c *cycle) sweepContacts(seen map[string]bool) error {
	ids, err := c.engine.db.ListPartnerRemoteIDs(c.account.ID)
	if err != nil {
		return err
	}
	for _, remoteID := range ids {
		if seen[remoteID] {
			continue
		}
		c.removeContactByRemoteID(remoteID)
	}
	return nil
}

func (c *cycle) removeContactByRemoteID(remoteID string) {
	partner, err := c.engine.db.GetPartnerByRemoteID(c.account.ID, remoteID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		c.failf("load contact %s: %v", remoteID, err)
		return
	}
	if err := c.engine.db.DeletePartnerCascade(partner.ID); err != nil {
		c.failf("delete contact %s: %v", partner.FullName, err)
		return
	}
	c.result.Deleted++
}

func (c *cycle) pushContacts(ctx context.Context) error {
	dirty, err := c.engine.db.ListDirtyPartners(c.account.ID, c.lastSync, c.start)
	if err != nil {
		return err
	}

	for _, partner := range dirty {
		if err := c.pushContact(ctx, partner); err != nil {
			if fatal(err) {
				return err
			}
			c.failf("push contact %s: %v", partner.FullName, err)
			continue
		}
		c.result.Pushed++
	}
	return nil
}

func (c *cycle) pushContact(ctx context.Context, partner *db.Partner) error {
	payload, err := c.contactPayload(partner)
	if err != nil {
		return err
	}

	if partner.Office365ID != "" {
		if _, err := c.client.PatchJSON(ctx, "me/contacts/"+partner.Office365ID, payload); err != nil {
			return err
		}
		return c.engine.db.TouchPartnerSynced(partner.ID, partner.Office365ID)
	}

	path := "me/contacts"
	if partner.FolderID != "" {
		folder, err := c.engine.db.GetContactFolderByID(partner.FolderID)
		if err == nil && folder.Office365ID != "" && folder.Name != defaultContactFolderName {
			path = "me/contactFolders/" + folder.Office365ID + "/contacts"
		}
	}

	remoteID, _, err := c.client.PostJSON(ctx, path, payload, "contacts")
	if err != nil {
		return err
	}
	if remoteID == "" {
		return fmt.Errorf("create returned no contact id")
	}
	return c.engine.db.TouchPartnerSynced(partner.ID, remoteID)
}

func (c *cycle) contactPayload(partner *db.Partner) (map[string]any, error) {
	payload := map[string]any{}
	graph.PutStr(payload, "title", partner.Title)
	graph.PutStr(payload, "givenName", partner.FirstName)
	graph.PutStr(payload, "surname", partner.LastName)
	graph.PutStr(payload, "displayName", partner.FullName)
	graph.PutStr(payload, "companyName", partner.CompanyName)
	graph.PutStr(payload, "jobTitle", partner.JobTitle)
	graph.PutStr(payload, "mobilePhone", partner.MobilePhone)
	graph.PutStr(payload, "personalNotes", partner.Description)
	if partner.FixedPhone != "" {
		payload["homePhones"] = []any{partner.FixedPhone}
	}
	if partner.Birthdate != nil {
		payload["birthday"] = partner.Birthdate.UTC().Format(time.RFC3339)
	}

	if partner.EmailAddressID != "" {
		address, err := c.engine.db.GetEmailAddressByID(partner.EmailAddressID)
		if err == nil && address.Address != "" {
			name := address.Name
			if name == "" {
				name = partner.FullName
			}
			payload["emailAddresses"] = []any{map[string]any{"address": address.Address, "name": name}}
		}
	}

	addresses, err := c.engine.db.ListPartnerAddresses(partner.ID)
	if err != nil {
		return nil, err
	}
	for _, addr := range addresses {
		key := ""
		switch addr.Kind {
		case db.AddressHome:
			key = "homeAddress"
		case db.AddressBusiness:
			key = "businessAddress"
		case db.AddressOther:
			key = "otherAddress"
		}
		if key == "" {
			continue
		}
		obj := map[string]any{}
		graph.PutStr(obj, "street", addr.Street)
		graph.PutStr(obj, "city", addr.City)
		graph.PutStr(obj, "state", addr.State)
		graph.PutStr(obj, "postalCode", addr.Zip)
		graph.PutStr(obj, "countryOrRegion", addr.Country)
		if len(obj) > 0 {
			payload[key] = obj
		}
	}

	return payload, nil
}

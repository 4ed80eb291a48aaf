package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// defaultMailPath is the collection a mail cycle reads when no override
// is given.
const defaultMailPath = "me/messages"

func (c *cycle) runMail(ctx context.Context, mailURL string) error {
	if mailURL == "" {
		mailURL = defaultMailPath
	}

	if err := c.pullMailFolders(ctx, "me/mailFolders"); err != nil {
		return err
	}

	records, err := c.client.FetchAll(ctx, mailURL, c.engine.opts.PageSize, nil)
	if err != nil {
		return err
	}
	for _, record := range records {
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		if isRemoved(record) {
			c.removeMessageByRemoteID(remoteID)
			continue
		}
		if err := c.pullMessage(record, remoteID); err != nil {
			c.failf("pull message %s: %v", remoteID, err)
		}
	}

	return c.pushMessages(ctx)
}

// pullMailFolders walks the remote folder tree, hidden folders included,
// recursing into children.
func (c *cycle) pullMailFolders(ctx context.Context, path string) error {
	extra := url.Values{"includeHiddenFolders": {"true"}}
	folders, err := c.client.FetchAll(ctx, path, c.engine.opts.PageSize, extra)
	if err != nil {
		return err
	}

	for _, record := range folders {
		if isRemoved(record) {
			continue
		}
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		folder := &db.MailFolder{
			Office365ID:    remoteID,
			AccountID:      c.account.ID,
			Name:           graph.Str(record, "displayName"),
			ParentFolderID: graph.Str(record, "parentFolderId"),
			IsHidden:       graph.Bool(record, "isHidden"),
		}
		if err := c.engine.db.UpsertMailFolder(folder); err != nil {
			c.failf("save mail folder %s: %v", folder.Name, err)
			continue
		}
		if count, ok := graph.Int(record, "childFolderCount"); ok && count > 0 {
			if err := c.pullMailFolders(ctx, "me/mailFolders/"+remoteID+"/childFolders"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *cycle) pullMessage(record map[string]any, remoteID string) error {
	database := c.engine.db

	message, err := database.GetMessageByRemoteID(c.account.ID, remoteID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	created, _ := graph.Time(record, "createdDateTime", time.UTC)
	modified, _ := graph.Time(record, "lastModifiedDateTime", time.UTC)
	if message != nil {
		local := LocalStamps{CreatedOn: message.CreatedAt, UpdatedOn: message.UpdatedAt}
		if !NeedsPull(RemoteStamps{Created: created, Modified: modified}, local, c.lastSync) {
			c.result.Skipped++
			return nil
		}
	} else {
		message = &db.Message{AccountID: c.account.ID, Office365ID: remoteID}
	}

	message.Subject = graph.Str(record, "subject")
	message.Content = graph.Str(graph.Child(record, "body"), "content")
	if message.Content == "" {
		message.Content = graph.Str(record, "bodyPreview")
	}

	if sentAt, err := graph.Time(record, "sentDateTime", time.UTC); err == nil && !sentAt.IsZero() {
		message.SentAt = &sentAt
	}
	if receivedAt, err := graph.Time(record, "receivedDateTime", time.UTC); err == nil && !receivedAt.IsZero() {
		message.ReceivedAt = &receivedAt
	}

	switch {
	case graph.Bool(record, "isDraft"):
		message.Status = db.MessageStatusDraft
		message.Type = db.MessageTypeSent
	case graph.Bool(record, "isRead"):
		message.Status = db.MessageStatusSent
		message.Type = db.MessageTypeReceived
	default:
		message.Status = db.MessageStatusSent
		message.Type = db.MessageTypeSent
	}

	if parent := graph.Str(record, "parentFolderId"); parent != "" {
		if folder, err := database.GetMailFolderByRemoteID(c.account.ID, parent); err == nil {
			message.FolderID = folder.ID
		}
	}

	if err := c.attachSender(record, message); err != nil {
		c.failf("sender of message %s: %v", remoteID, err)
	}

	if err := database.SaveMessage(message); err != nil {
		return err
	}

	if err := c.replaceRecipients(message, record); err != nil {
		return err
	}

	// Stamp after the saves so the pull does not re-dirty the message.
	if err := database.TouchMessageSynced(message.ID, message.Office365ID, message.FolderID); err != nil {
		return err
	}

	c.result.Pulled++
	return nil
}

// attachSender resolves the message sender into a shared email row, a
// user synthesized from the display name, and an outgoing mail account.
func (c *cycle) attachSender(record map[string]any, message *db.Message) error {
	database := c.engine.db

	sender := graph.Child(graph.Child(record, "sender"), "emailAddress")
	if sender == nil {
		sender = graph.Child(graph.Child(record, "from"), "emailAddress")
	}
	address := graph.Str(sender, "address")
	if address == "" {
		return nil
	}
	name := graph.Str(sender, "name")
	if name == "" {
		name = address
	}

	email, err := database.GetOrCreateEmailAddress(address, name)
	if err != nil {
		return err
	}
	message.FromEmailID = email.ID

	code := codeFromName(name)
	if code == "" {
		return nil
	}
	user, err := database.GetUserByCode(code)
	if errors.Is(err, db.ErrNotFound) {
		user = &db.User{Code: code, Email: address, Name: name}
		if err := database.CreateUser(user); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	message.SenderUserID = user.ID

	account, err := database.GetOrCreateEmailAccount(name, "Microsoft", "smtp", user.ID)
	if err != nil {
		return err
	}
	message.MailAccountID = account.ID
	return nil
}

var recipientKinds = []struct {
	key  string
	kind db.RecipientKind
}{
	{"toRecipients", db.RecipientTo},
	{"ccRecipients", db.RecipientCC},
	{"bccRecipients", db.RecipientBCC},
	{"replyTo", db.RecipientReplyTo},
}

func (c *cycle) replaceRecipients(message *db.Message, record map[string]any) error {
	var recipients []*db.MessageRecipient
	for _, slot := range recipientKinds {
		for _, entry := range graph.Children(record, slot.key) {
			email := graph.Child(entry, "emailAddress")
			address := graph.Str(email, "address")
			if address == "" {
				continue
			}
			row, err := c.engine.db.GetOrCreateEmailAddress(address, graph.Str(email, "name"))
			if err != nil {
				return err
			}
			recipients = append(recipients, &db.MessageRecipient{EmailAddressID: row.ID, Kind: slot.kind})
		}
	}
	if recipients == nil {
		return nil
	}
	return c.engine.db.ReplaceMessageRecipients(message.ID, recipients)
}

func (c *cycle) removeMessageByRemoteID(remoteID string) {
	message, err := c.engine.db.GetMessageByRemoteID(c.account.ID, remoteID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		c.failf("load message %s: %v", remoteID, err)
		return
	}
	if err := c.engine.db.DeleteMessageCascade(message.ID); err != nil {
		c.failf("delete message %s: %v", message.Subject, err)
		return
	}
	c.result.Deleted++
}

func (c *cycle) pushMessages(ctx context.Context) error {
	dirty, err := c.engine.db.ListDirtyMessages(c.account.ID, c.lastSync, c.start)
	if err != nil {
		return err
	}

	for _, message := range dirty {
		if err := c.pushMessage(ctx, message); err != nil {
			if fatal(err) {
				return err
			}
			c.failf("push message %s: %v", message.Subject, err)
			continue
		}
		c.result.Pushed++
	}
	return nil
}

func (c *cycle) pushMessage(ctx context.Context, message *db.Message) error {
	database := c.engine.db

	payload := map[string]any{
		"importance": "Low",
		"isDraft":    true,
	}
	graph.PutStr(payload, "subject", message.Subject)
	if message.Content != "" {
		payload["body"] = map[string]any{"contentType": "html", "content": message.Content}
	}
	if message.SentAt != nil {
		payload["sentDateTime"] = message.SentAt.UTC().Format(time.RFC3339)
	}

	recipients, err := database.ListMessageRecipients(message.ID)
	if err != nil {
		return err
	}
	lists := map[db.RecipientKind][]any{}
	for _, recipient := range recipients {
		entry := graph.EmailEntry(recipient.Address, recipient.Name)
		if entry == nil {
			continue
		}
		lists[recipient.Kind] = append(lists[recipient.Kind], entry)
	}
	for _, slot := range recipientKinds {
		if entries := lists[slot.kind]; entries != nil {
			payload[slot.key] = entries
		}
	}

	if message.FromEmailID != "" {
		if from, err := database.GetEmailAddressByID(message.FromEmailID); err == nil {
			graph.PutEmail(payload, "from", from.Address, from.Name)
			graph.PutEmail(payload, "sender", from.Address, from.Name)
		}
	}

	path := defaultMailPath
	var folderID string
	if name := db.MailFolderNameFor(message.Status); name != "" {
		if folder, err := database.GetMailFolderByName(c.account.ID, name); err == nil && folder.Office365ID != "" {
			path = "me/mailFolders/" + folder.Office365ID + "/messages"
			folderID = folder.ID
		}
	}

	if message.Office365ID != "" {
		patchPath := defaultMailPath + "/" + message.Office365ID
		if _, err := c.client.PatchJSON(ctx, patchPath, payload); err != nil {
			return err
		}
		return database.TouchMessageSynced(message.ID, message.Office365ID, orDefault(folderID, message.FolderID))
	}

	remoteID, _, err := c.client.PostJSON(ctx, path, payload, "messages")
	if err != nil {
		return err
	}
	if remoteID == "" {
		return fmt.Errorf("create returned no message id")
	}
	return database.TouchMessageSynced(message.ID, remoteID, orDefault(folderID, message.FolderID))
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

package sync

import (
	"context"
	"fmt"

	"github.com/macjediwizard/officebridge/internal/db"
)

// DeleteContact removes a local partner, propagating the deletion to
// Graph first when the partner carries a real remote id. Synthetic
// company partners are local-only and never issue a remote delete.
func (e *Engine) DeleteContact(ctx context.Context, account *db.OfficeAccount, partnerID string) error {
	partner, err := e.db.GetPartnerByID(partnerID)
	if err != nil {
		return err
	}
	if partner.Office365ID != "" && !partner.IsSyntheticCompany() {
		client := e.clients(account)
		if err := client.Delete(ctx, "me/contacts/"+partner.Office365ID); err != nil {
			return fmt.Errorf("remote delete of contact %s: %w", partner.Office365ID, err)
		}
	}
	return e.db.DeletePartnerCascade(partnerID)
}

// DeleteEvent removes a local event and its child occurrences. The
// parent's remote copy is deleted first; children never carry a remote
// id of their own.
func (e *Engine) DeleteEvent(ctx context.Context, account *db.OfficeAccount, eventID string) error {
	event, err := e.db.GetEventByID(eventID)
	if err != nil {
		return err
	}
	if event.Office365ID != "" {
		client := e.clients(account)
		if err := client.Delete(ctx, "me/events/"+event.Office365ID); err != nil {
			return fmt.Errorf("remote delete of event %s: %w", event.Office365ID, err)
		}
	}
	return e.db.DeleteEventCascade(eventID)
}

// DeleteMessage removes a local message, deleting the remote copy first
// when one exists.
func (e *Engine) DeleteMessage(ctx context.Context, account *db.OfficeAccount, messageID string) error {
	message, err := e.db.GetMessageByID(messageID)
	if err != nil {
		return err
	}
	if message.Office365ID != "" {
		client := e.clients(account)
		if err := client.Delete(ctx, "me/messages/"+message.Office365ID); err != nil {
			return fmt.Errorf("remote delete of message %s: %w", message.Office365ID, err)
		}
	}
	return e.db.DeleteMessageCascade(messageID)
}

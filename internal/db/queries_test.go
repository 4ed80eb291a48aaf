package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a temporary test database.
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	// Create a temp directory for the test database
	tempDir, err := os.MkdirTemp("", "officebridge-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tempDir)
	}

	return db, cleanup
}

// createTestUser creates a test user and returns the user ID.
func createTestUser(t *testing.T, db *DB, email string) string {
	t.Helper()

	user, err := db.GetOrCreateUser(email, "Test User")
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user.ID
}

// createTestAccount creates a test office account for a user.
func createTestAccount(t *testing.T, db *DB, userID, name string) *OfficeAccount {
	t.Helper()

	account := &OfficeAccount{
		UserID:       userID,
		Name:         name,
		RefreshToken: "initial-refresh-token",
		Enabled:      true,
	}

	if err := db.CreateOfficeAccount(account); err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

func TestOfficeAccountLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	t.Run("get by id", func(t *testing.T) {
		got, err := db.GetOfficeAccountByID(account.ID)
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}
		if got.Name != "Work" {
			t.Errorf("expected name Work, got %q", got.Name)
		}
		if got.LastContactSyncAt != nil {
			t.Errorf("expected nil last contact sync for a fresh account")
		}
	})

	t.Run("rotate refresh token", func(t *testing.T) {
		if err := db.UpdateRefreshToken(account.ID, "rotated-token"); err != nil {
			t.Fatalf("failed to rotate token: %v", err)
		}
		got, err := db.GetOfficeAccountByID(account.ID)
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}
		if got.RefreshToken != "rotated-token" {
			t.Errorf("expected rotated token, got %q", got.RefreshToken)
		}
	})

	t.Run("advance last sync per family", func(t *testing.T) {
		start := time.Now().UTC().Truncate(time.Second)
		if err := db.AdvanceLastSync(account.ID, FamilyCalendars, start); err != nil {
			t.Fatalf("failed to advance last sync: %v", err)
		}

		got, err := db.GetOfficeAccountByID(account.ID)
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}
		if got.LastCalendarSyncAt == nil || !got.LastCalendarSyncAt.Equal(start) {
			t.Errorf("expected calendar sync mark %v, got %v", start, got.LastCalendarSyncAt)
		}
		if got.LastContactSyncAt != nil || got.LastMailSyncAt != nil {
			t.Errorf("expected other family marks untouched")
		}
	})

	t.Run("unknown family rejected", func(t *testing.T) {
		if err := db.AdvanceLastSync(account.ID, SyncFamily("bogus"), time.Now()); err == nil {
			t.Errorf("expected error for unknown family")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := db.GetOfficeAccountByID("missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEmailAddressDeduplication(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	first, err := db.GetOrCreateEmailAddress("shared@example.com", "Shared")
	if err != nil {
		t.Fatalf("failed to create email address: %v", err)
	}

	second, err := db.GetOrCreateEmailAddress("shared@example.com", "Other Name")
	if err != nil {
		t.Fatalf("failed to get email address: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the same row for identical addresses, got %s and %s", first.ID, second.ID)
	}
}

func TestPartnerUpsertAndDirtySweep(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	synced := &Partner{
		Office365ID: "remote-1",
		AccountID:   account.ID,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		FullName:    "Ada Lovelace",
	}
	if err := db.SavePartner(synced); err != nil {
		t.Fatalf("failed to save synced partner: %v", err)
	}

	local := &Partner{
		AccountID: account.ID,
		FirstName: "Grace",
		LastName:  "Hopper",
		FullName:  "Grace Hopper",
	}
	if err := db.SavePartner(local); err != nil {
		t.Fatalf("failed to save local partner: %v", err)
	}

	t.Run("never synced partner is dirty on first cycle", func(t *testing.T) {
		start := time.Now().UTC().Add(time.Minute)
		dirty, err := db.ListDirtyPartners(account.ID, nil, start)
		if err != nil {
			t.Fatalf("failed to list dirty partners: %v", err)
		}

		found := false
		for _, p := range dirty {
			if p.ID == local.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("expected local partner in dirty set")
		}
	})

	t.Run("synced partner outside window is clean", func(t *testing.T) {
		lastSync := time.Now().UTC().Add(time.Hour)
		start := lastSync.Add(time.Hour)
		dirty, err := db.ListDirtyPartners(account.ID, &lastSync, start)
		if err != nil {
			t.Fatalf("failed to list dirty partners: %v", err)
		}
		for _, p := range dirty {
			if p.ID == synced.ID {
				t.Errorf("expected synced partner to be clean")
			}
		}
	})

	t.Run("upsert idempotence by remote id", func(t *testing.T) {
		again, err := db.GetPartnerByRemoteID(account.ID, "remote-1")
		if err != nil {
			t.Fatalf("failed to get partner by remote id: %v", err)
		}
		if again.ID != synced.ID {
			t.Errorf("expected one row per remote id")
		}
	})
}

func TestTouchPartnerSyncedKeepsPulledPartnerClean(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")
	lastSync := time.Now().UTC().Add(-time.Hour)

	partner := &Partner{
		Office365ID: "remote-1",
		AccountID:   account.ID,
		FullName:    "Ada Lovelace",
	}
	if err := db.SavePartner(partner); err != nil {
		t.Fatalf("failed to save partner: %v", err)
	}
	if err := db.TouchPartnerSynced(partner.ID, "remote-1"); err != nil {
		t.Fatalf("failed to stamp partner: %v", err)
	}

	contains := func(dirty []*Partner, id string) bool {
		for _, p := range dirty {
			if p.ID == id {
				return true
			}
		}
		return false
	}

	start := time.Now().UTC().Add(time.Minute)
	dirty, err := db.ListDirtyPartners(account.ID, &lastSync, start)
	if err != nil {
		t.Fatalf("failed to list dirty partners: %v", err)
	}
	if contains(dirty, partner.ID) {
		t.Error("a stamped partner must stay clean on the next cycle")
	}

	// A genuine local edit after the stamp re-dirties the row.
	partner.FullName = "Ada King"
	if err := db.SavePartner(partner); err != nil {
		t.Fatalf("failed to edit partner: %v", err)
	}
	dirty, err = db.ListDirtyPartners(account.ID, &lastSync, start)
	if err != nil {
		t.Fatalf("failed to list dirty partners: %v", err)
	}
	if !contains(dirty, partner.ID) {
		t.Error("an edited partner should be dirty again")
	}
}

func TestTouchMessageSyncedKeepsPulledDraftClean(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")
	lastSync := time.Now().UTC().Add(-time.Hour)

	draft := &Message{
		Office365ID: "remote-m1",
		AccountID:   account.ID,
		Subject:     "Pulled draft",
		Status:      MessageStatusDraft,
		Type:        MessageTypeSent,
	}
	if err := db.SaveMessage(draft); err != nil {
		t.Fatalf("failed to save draft: %v", err)
	}
	if err := db.TouchMessageSynced(draft.ID, "remote-m1", ""); err != nil {
		t.Fatalf("failed to stamp draft: %v", err)
	}

	start := time.Now().UTC().Add(time.Minute)
	dirty, err := db.ListDirtyMessages(account.ID, &lastSync, start)
	if err != nil {
		t.Fatalf("failed to list dirty messages: %v", err)
	}
	if len(dirty) != 0 {
		t.Errorf("a stamped draft must stay clean on the next cycle, got %d dirty", len(dirty))
	}

	draft.Subject = "Edited locally"
	if err := db.SaveMessage(draft); err != nil {
		t.Fatalf("failed to edit draft: %v", err)
	}
	dirty, err = db.ListDirtyMessages(account.ID, &lastSync, start)
	if err != nil {
		t.Fatalf("failed to list dirty messages: %v", err)
	}
	if len(dirty) != 1 || dirty[0].ID != draft.ID {
		t.Errorf("an edited draft should be dirty again, got %d dirty", len(dirty))
	}
}

func TestDeletePartnerCascadeRemovesEmptyCompany(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	child := &Partner{
		Office365ID: "remote-child",
		AccountID:   account.ID,
		FullName:    "Child Contact",
	}
	if err := db.SavePartner(child); err != nil {
		t.Fatalf("failed to save child: %v", err)
	}

	company := &Partner{
		Office365ID: CompanyIDPrefix + child.ID,
		AccountID:   account.ID,
		FullName:    "Acme",
		IsCompany:   true,
	}
	if err := db.SavePartner(company); err != nil {
		t.Fatalf("failed to save company: %v", err)
	}

	child.ParentID = company.ID
	if err := db.SavePartner(child); err != nil {
		t.Fatalf("failed to attach child: %v", err)
	}

	if err := db.DeletePartnerCascade(child.ID); err != nil {
		t.Fatalf("failed to delete partner: %v", err)
	}

	if _, err := db.GetPartnerByID(child.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected child deleted, got %v", err)
	}
	if _, err := db.GetPartnerByID(company.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected empty synthetic company deleted, got %v", err)
	}
}

func TestEventSaveAndDeleteCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	calendar := &Calendar{
		Office365ID: "cal-1",
		AccountID:   account.ID,
		Name:        "Calendar",
		IsEditable:  true,
	}
	if err := db.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to upsert calendar: %v", err)
	}
	if calendar.SyncMode != SyncModeCRM || calendar.SyncWeeks != 10 {
		t.Fatalf("expected CRM defaults, got mode=%s weeks=%d", calendar.SyncMode, calendar.SyncWeeks)
	}

	parent := &Event{
		Office365ID: "event-1",
		CalendarID:  calendar.ID,
		Subject:     "Weekly standup",
		StartAt:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		EndAt:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := db.SaveEvent(parent); err != nil {
		t.Fatalf("failed to save parent event: %v", err)
	}

	for i := 0; i < 3; i++ {
		child := &Event{
			CalendarID:    calendar.ID,
			ParentEventID: parent.ID,
			Subject:       "Weekly standup",
			StartAt:       parent.StartAt.AddDate(0, 0, 7*(i+1)),
			EndAt:         parent.EndAt.AddDate(0, 0, 7*(i+1)),
		}
		if err := db.SaveEvent(child); err != nil {
			t.Fatalf("failed to save child event: %v", err)
		}
	}

	children, err := db.ListChildEvents(parent.ID)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}

	if err := db.DeleteEventCascade(parent.ID); err != nil {
		t.Fatalf("failed to delete event cascade: %v", err)
	}

	children, err = db.ListChildEvents(parent.ID)
	if err != nil {
		t.Fatalf("failed to list children after delete: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected no children after cascade, got %d", len(children))
	}
	if _, err := db.GetEventByID(parent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected parent deleted, got %v", err)
	}
}

func TestStampEventSyncedDoesNotDirty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	calendar := &Calendar{Office365ID: "cal-1", AccountID: account.ID, Name: "Calendar"}
	if err := db.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to upsert calendar: %v", err)
	}

	event := &Event{
		CalendarID: calendar.ID,
		Subject:    "One-off",
		StartAt:    time.Now().UTC(),
		EndAt:      time.Now().UTC().Add(time.Hour),
	}
	if err := db.SaveEvent(event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	// Simulate a push: stamp id and sync time after the cycle started.
	cycleStart := time.Now().UTC().Add(time.Second)
	if err := db.StampEventSynced(event.ID, "remote-new", cycleStart); err != nil {
		t.Fatalf("failed to stamp event: %v", err)
	}

	lastSync := cycleStart
	nextStart := cycleStart.Add(time.Hour)
	dirty, err := db.ListDirtyEvents(calendar.ID, &lastSync, nextStart)
	if err != nil {
		t.Fatalf("failed to list dirty events: %v", err)
	}
	for _, e := range dirty {
		if e.ID == event.ID {
			t.Errorf("expected pushed event to stay clean on the next cycle")
		}
	}
}

func TestArchiveCalendarCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	calendar := &Calendar{Office365ID: "cal-gone", AccountID: account.ID, Name: "Old"}
	if err := db.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to upsert calendar: %v", err)
	}

	event := &Event{
		CalendarID: calendar.ID,
		Subject:    "Orphan",
		StartAt:    time.Now().UTC(),
		EndAt:      time.Now().UTC().Add(time.Hour),
	}
	if err := db.SaveEvent(event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	if err := db.ArchiveCalendarCascade(calendar.ID); err != nil {
		t.Fatalf("failed to archive calendar: %v", err)
	}

	got, err := db.GetCalendarByID(calendar.ID)
	if err != nil {
		t.Fatalf("failed to get archived calendar: %v", err)
	}
	if !got.Archived {
		t.Errorf("expected calendar archived")
	}
	if got.Office365ID != "" {
		t.Errorf("expected remote id cleared, got %q", got.Office365ID)
	}
	if _, err := db.GetEventByID(event.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected calendar events removed, got %v", err)
	}

	calendars, err := db.ListCalendars(account.ID)
	if err != nil {
		t.Fatalf("failed to list calendars: %v", err)
	}
	for _, c := range calendars {
		if c.ID == calendar.ID {
			t.Errorf("archived calendar should not be listed")
		}
	}
}

func TestDirtyMessagesOnlyDrafts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	draft := &Message{
		AccountID: account.ID,
		Subject:   "Draft",
		Status:    MessageStatusDraft,
		Type:      MessageTypeSent,
	}
	if err := db.SaveMessage(draft); err != nil {
		t.Fatalf("failed to save draft: %v", err)
	}

	received := &Message{
		Office365ID: "remote-mail",
		AccountID:   account.ID,
		Subject:     "Received",
		Status:      MessageStatusSent,
		Type:        MessageTypeReceived,
	}
	if err := db.SaveMessage(received); err != nil {
		t.Fatalf("failed to save received message: %v", err)
	}

	start := time.Now().UTC().Add(time.Minute)
	dirty, err := db.ListDirtyMessages(account.ID, nil, start)
	if err != nil {
		t.Fatalf("failed to list dirty messages: %v", err)
	}

	if len(dirty) != 1 || dirty[0].ID != draft.ID {
		t.Fatalf("expected only the draft to be dirty, got %d messages", len(dirty))
	}
}

func TestContactFolderCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "owner@example.com")
	account := createTestAccount(t, db, userID, "Work")

	folder := &ContactFolder{Office365ID: "folder-1", AccountID: account.ID, Name: "Clients"}
	if err := db.UpsertContactFolder(folder); err != nil {
		t.Fatalf("failed to upsert folder: %v", err)
	}

	partner := &Partner{
		Office365ID: "remote-p",
		AccountID:   account.ID,
		FolderID:    folder.ID,
		FullName:    "Inside Folder",
	}
	if err := db.SavePartner(partner); err != nil {
		t.Fatalf("failed to save partner: %v", err)
	}

	if err := db.DeleteContactFolderCascade(folder.ID); err != nil {
		t.Fatalf("failed to delete folder: %v", err)
	}

	if _, err := db.GetContactFolderByID(folder.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected folder deleted, got %v", err)
	}
	if _, err := db.GetPartnerByID(partner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected contained partner deleted, got %v", err)
	}
}

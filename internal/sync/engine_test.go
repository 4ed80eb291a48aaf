package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// setupTestEngine wires an engine against a fake Graph server and a
// temporary database.
func setupTestEngine(t *testing.T, handler http.Handler) (*Engine, *db.DB, *db.OfficeAccount, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "officebridge-sync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	server := httptest.NewServer(handler)

	user, err := database.GetOrCreateUser("owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	account := &db.OfficeAccount{UserID: user.ID, Name: "Work", RefreshToken: "rt", Enabled: true}
	if err := database.CreateOfficeAccount(account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	engine := NewEngine(database, nil, Options{BaseURL: server.URL, PageSize: 50})
	engine.clients = func(acct *db.OfficeAccount) *graph.Client {
		return graph.NewClient(graph.StaticToken("token"), graph.WithBaseURL(server.URL))
	}

	cleanup := func() {
		server.Close()
		database.Close()
		os.RemoveAll(tempDir)
	}
	return engine, database, account, cleanup
}

// writePage writes a single-page Graph list response.
func writePage(w http.ResponseWriter, records ...map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"@odata.count": len(records),
		"value":        records,
	})
}

func writeObject(w http.ResponseWriter, obj map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(obj)
}

func TestSyncContactsPullsAndSynthesizesCompany(t *testing.T) {
	contacts := []map[string]any{{
		"id":          "ct1",
		"displayName": "Ada Lovelace",
		"givenName":   "Ada",
		"surname":     "Lovelace",
		"companyName": "Analytical Engines",
		"mobilePhone": "555-0100",
		"emailAddresses": []any{
			map[string]any{"address": "ada@example.com", "name": "Ada"},
		},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/me/contactFolders", func(w http.ResponseWriter, r *http.Request) {
		writePage(w)
	})
	mux.HandleFunc("/me/contacts", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, contacts...)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	result := engine.SyncContacts(context.Background(), account)
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pulled != 1 {
		t.Errorf("expected 1 pulled, got %d", result.Pulled)
	}

	partner, err := database.GetPartnerByRemoteID(account.ID, "ct1")
	if err != nil {
		t.Fatalf("pulled contact not found: %v", err)
	}
	if partner.FullName != "Ada Lovelace" || partner.MobilePhone != "555-0100" {
		t.Errorf("contact fields not mapped: %+v", partner)
	}
	if partner.EmailAddressID == "" {
		t.Error("primary email should be bound")
	}
	if partner.FolderID == "" {
		t.Error("contact should land in the default folder")
	}

	company, err := database.GetCompanyByName(account.ID, "Analytical Engines")
	if err != nil {
		t.Fatalf("synthetic company not found: %v", err)
	}
	if !company.IsSyntheticCompany() {
		t.Errorf("company remote id should carry the synthetic prefix, got %q", company.Office365ID)
	}
	if partner.ParentID != company.ID {
		t.Error("contact should be attached to its company")
	}

	reloaded, err := database.GetOfficeAccountByID(account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.LastContactSyncAt == nil {
		t.Error("contacts last sync mark should advance")
	}

	// Second cycle with the contact gone remotely removes it and the
	// now-empty company.
	contacts = nil
	result = engine.SyncContacts(context.Background(), reloaded)
	if !result.Success {
		t.Fatalf("second sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", result.Deleted)
	}
	if _, err := database.GetPartnerByRemoteID(account.ID, "ct1"); !errors.Is(err, db.ErrNotFound) {
		t.Error("removed contact should be gone")
	}
	if _, err := database.GetCompanyByName(account.ID, "Analytical Engines"); !errors.Is(err, db.ErrNotFound) {
		t.Error("empty company should be gone with its last child")
	}
}

func TestSyncContactsPushesLocalCreation(t *testing.T) {
	var posted map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/me/contactFolders", func(w http.ResponseWriter, r *http.Request) {
		writePage(w)
	})
	mux.HandleFunc("/me/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&posted)
			w.WriteHeader(http.StatusCreated)
			writeObject(w, map[string]any{"id": "new-ct"})
			return
		}
		writePage(w)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	partner := &db.Partner{
		AccountID: account.ID,
		FirstName: "Grace",
		LastName:  "Hopper",
		FullName:  "Grace Hopper",
	}
	if err := database.SavePartner(partner); err != nil {
		t.Fatalf("failed to save partner: %v", err)
	}

	result := engine.SyncContacts(context.Background(), account)
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pushed != 1 {
		t.Errorf("expected 1 pushed, got %d", result.Pushed)
	}
	if posted["givenName"] != "Grace" || posted["surname"] != "Hopper" {
		t.Errorf("pushed payload incomplete: %v", posted)
	}

	if _, err := database.GetPartnerByRemoteID(account.ID, "new-ct"); err != nil {
		t.Errorf("pushed partner should carry the returned remote id: %v", err)
	}
}

func TestSyncCalendarsMaterializesOccurrences(t *testing.T) {
	now := time.Now()
	day := now.Format("2006-01-02")
	endDay := now.AddDate(0, 0, 28).Format("2006-01-02")

	event := map[string]any{
		"id":      "ev1",
		"subject": "Weekly standup",
		"start":   map[string]any{"dateTime": day + "T10:00:00", "timeZone": "UTC"},
		"end":     map[string]any{"dateTime": day + "T10:30:00", "timeZone": "UTC"},
		"showAs":  "busy",
		"recurrence": map[string]any{
			"pattern": map[string]any{"type": "weekly", "interval": 1, "daysOfWeek": []any{"monday"}},
			"range":   map[string]any{"type": "endDate", "startDate": day, "endDate": endDay},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id": "cal1", "name": "Calendar", "isDefaultCalendar": true, "canEdit": true,
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, event)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	result := engine.SyncCalendars(context.Background(), account)
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}

	calendar, err := database.GetCalendarByRemoteID(account.ID, "cal1")
	if err != nil {
		t.Fatalf("calendar not found: %v", err)
	}
	if calendar.SyncMode != db.SyncModeCRM || calendar.SyncWeeks != 10 {
		t.Errorf("calendar defaults not applied: %+v", calendar)
	}
	if !calendar.IsDefault || calendar.IsRemovable {
		t.Error("the default calendar must not be removable")
	}

	parent, err := database.GetEventByRemoteID(calendar.ID, "ev1")
	if err != nil {
		t.Fatalf("parent event not found: %v", err)
	}
	if parent.Availability != db.AvailabilityBusy {
		t.Errorf("expected busy availability, got %s", parent.Availability)
	}

	rule, err := database.GetRecurrenceRule(parent.ID)
	if err != nil {
		t.Fatalf("recurrence rule not found: %v", err)
	}
	if rule.Type != db.RecurrenceWeek || rule.WeekdayMask&db.WeekdayMonday == 0 {
		t.Errorf("rule not mapped: %+v", rule)
	}

	children, err := database.ListChildEvents(parent.ID)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	if len(children) != 4 {
		t.Errorf("expected 4 materialized occurrences, got %d", len(children))
	}
	for _, child := range children {
		if child.Office365ID != "" {
			t.Error("materialized occurrences must not carry a remote id")
		}
		if child.Subject != parent.Subject {
			t.Error("occurrence should inherit the parent subject")
		}
	}

	// A second cycle with unchanged children is a no-op for the series.
	result = engine.SyncCalendars(context.Background(), account)
	children, _ = database.ListChildEvents(parent.ID)
	if len(children) != 4 {
		t.Errorf("occurrence count changed on idempotent cycle: %d", len(children))
	}
}

func TestSyncCalendarsArchivesVanished(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	calendar := &db.Calendar{Office365ID: "gone", AccountID: account.ID, Name: "Old"}
	if err := database.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to create calendar: %v", err)
	}

	result := engine.SyncCalendars(context.Background(), account)
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Deleted != 1 {
		t.Errorf("expected 1 archived calendar, got %d", result.Deleted)
	}

	reloaded, err := database.GetCalendarByID(calendar.ID)
	if err != nil {
		t.Fatalf("archived calendar should still exist: %v", err)
	}
	if !reloaded.Archived || reloaded.Office365ID != "" {
		t.Errorf("calendar should be archived with its remote id cleared: %+v", reloaded)
	}
}

func TestSyncMailPullsAndPushesDraft(t *testing.T) {
	var postedPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("includeHiddenFolders") != "true" {
			t.Error("mail folder fetch must include hidden folders")
		}
		writePage(w,
			map[string]any{"id": "f-drafts", "displayName": "Drafts"},
			map[string]any{"id": "f-inbox", "displayName": "Inbox"},
		)
	})
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id":             "m1",
			"subject":        "Quarterly numbers",
			"isDraft":        false,
			"isRead":         true,
			"parentFolderId": "f-inbox",
			"body":           map[string]any{"contentType": "html", "content": "<p>hi</p>"},
			"sentDateTime":   "2026-08-01T10:00:00Z",
			"from": map[string]any{
				"emailAddress": map[string]any{"address": "carol@example.com", "name": "Carol Jones"},
			},
			"toRecipients": []any{
				map[string]any{"emailAddress": map[string]any{"address": "dave@example.com"}},
			},
		})
	})
	mux.HandleFunc("/me/mailFolders/f-drafts/messages", func(w http.ResponseWriter, r *http.Request) {
		postedPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		writeObject(w, map[string]any{"id": "m-new"})
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	draft := &db.Message{
		AccountID: account.ID,
		Subject:   "Unfinished reply",
		Content:   "<p>draft</p>",
		Status:    db.MessageStatusDraft,
		Type:      db.MessageTypeSent,
	}
	if err := database.SaveMessage(draft); err != nil {
		t.Fatalf("failed to save draft: %v", err)
	}

	result := engine.SyncMail(context.Background(), account, "")
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pulled != 1 || result.Pushed != 1 {
		t.Errorf("expected 1 pulled and 1 pushed, got %d/%d", result.Pulled, result.Pushed)
	}

	message, err := database.GetMessageByRemoteID(account.ID, "m1")
	if err != nil {
		t.Fatalf("pulled message not found: %v", err)
	}
	if message.Status != db.MessageStatusSent || message.Type != db.MessageTypeReceived {
		t.Errorf("read message should be sent/received, got %s/%s", message.Status, message.Type)
	}

	inbox, err := database.GetMailFolderByName(account.ID, "Inbox")
	if err != nil || message.FolderID != inbox.ID {
		t.Error("message should land in the inbox folder")
	}

	if message.SenderUserID == "" {
		t.Fatal("sender user should be synthesized")
	}
	sender, err := database.GetUserByID(message.SenderUserID)
	if err != nil {
		t.Fatalf("sender user not found: %v", err)
	}
	if sender.Code != "CarolJones" {
		t.Errorf("sender code should strip non-alphanumerics, got %q", sender.Code)
	}
	if message.MailAccountID == "" {
		t.Error("sender mail account should be synthesized")
	}

	recipients, err := database.ListMessageRecipients(message.ID)
	if err != nil || len(recipients) != 1 {
		t.Errorf("expected 1 recipient, got %d (%v)", len(recipients), err)
	}

	if postedPath != "/me/mailFolders/f-drafts/messages" {
		t.Errorf("draft should be pushed into the Drafts folder, got %q", postedPath)
	}
	pushed, err := database.GetMessageByRemoteID(account.ID, "m-new")
	if err != nil {
		t.Fatalf("pushed draft should carry the returned remote id: %v", err)
	}
	drafts, err := database.GetMailFolderByName(account.ID, "Drafts")
	if err != nil || pushed.FolderID != drafts.ID {
		t.Error("pushed draft should be filed in the local Drafts folder")
	}

	logs, err := database.GetSyncLogs(account.ID, 10)
	if err != nil || len(logs) == 0 {
		t.Fatalf("expected a sync log entry: %v", err)
	}
	if logs[0].Family != db.FamilyMail {
		t.Errorf("expected mail family log, got %s", logs[0].Family)
	}
}

func TestSecondCalendarCycleIssuesNoWrites(t *testing.T) {
	day := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	created := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)

	var writes []string
	record := func(r *http.Request) {
		writes = append(writes, r.Method+" "+r.URL.Path)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id": "cal1", "name": "Calendar", "isDefaultCalendar": true, "canEdit": true,
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			record(r)
			w.WriteHeader(http.StatusCreated)
			writeObject(w, map[string]any{"id": "ev-echo"})
			return
		}
		writePage(w, map[string]any{
			"id":              "ev1",
			"subject":         "One-off",
			"createdDateTime": created,
			"start":           map[string]any{"dateTime": day + "T10:00:00", "timeZone": "UTC"},
			"end":             map[string]any{"dateTime": day + "T11:00:00", "timeZone": "UTC"},
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeObject(w, map[string]any{"id": "ev1"})
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	result := engine.SyncCalendars(context.Background(), account)
	if !result.Success {
		t.Fatalf("first sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pulled != 1 {
		t.Errorf("expected 1 pulled on the first cycle, got %d", result.Pulled)
	}

	reloaded, err := database.GetOfficeAccountByID(account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	result = engine.SyncCalendars(context.Background(), reloaded)
	if !result.Success {
		t.Fatalf("second sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pushed != 0 {
		t.Errorf("an unchanged pulled event must not be pushed back, got %d pushed", result.Pushed)
	}
	if len(writes) != 0 {
		t.Errorf("no POST or PATCH expected across both cycles, got %v", writes)
	}
}

func TestContactSweepSkippedWhenFolderFetchFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/contactFolders", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{"id": "f1", "displayName": "Clients"})
	})
	mux.HandleFunc("/me/contactFolders/f1/contacts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeObject(w, map[string]any{"error": map[string]any{"message": "backend unavailable"}})
	})
	mux.HandleFunc("/me/contacts", func(w http.ResponseWriter, r *http.Request) {
		writePage(w)
	})
	mux.HandleFunc("/me/contacts/ct1", func(w http.ResponseWriter, r *http.Request) {
		writeObject(w, map[string]any{"id": "ct1"})
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	partner := &db.Partner{Office365ID: "ct1", AccountID: account.ID, FullName: "Ada Lovelace"}
	if err := database.SavePartner(partner); err != nil {
		t.Fatalf("failed to save partner: %v", err)
	}

	result := engine.SyncContacts(context.Background(), account)
	if len(result.Errors) == 0 {
		t.Fatal("the failed folder fetch should be reported")
	}
	if _, err := database.GetPartnerByRemoteID(account.ID, "ct1"); err != nil {
		t.Errorf("partners must survive a cycle with a failed contact listing: %v", err)
	}
}

func TestPushedEventCarriesOrganizerAndHTMLBody(t *testing.T) {
	var posted map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id": "cal1", "name": "Calendar", "isDefaultCalendar": true, "canEdit": true,
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&posted)
			w.WriteHeader(http.StatusCreated)
			writeObject(w, map[string]any{"id": "ev-new"})
			return
		}
		writePage(w)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	calendar := &db.Calendar{
		Office365ID: "cal1",
		AccountID:   account.ID,
		UserID:      account.UserID,
		Name:        "Calendar",
		IsEditable:  true,
	}
	if err := database.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to upsert calendar: %v", err)
	}

	start := time.Now().Add(24 * time.Hour)
	event := &db.Event{
		CalendarID:  calendar.ID,
		Subject:     "Kickoff",
		Description: "<p>agenda</p>",
		StartAt:     start,
		EndAt:       start.Add(time.Hour),
	}
	if err := database.SaveEvent(event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	result := engine.SyncCalendars(context.Background(), account)
	if !result.Success {
		t.Fatalf("sync failed: %s %v", result.Message, result.Errors)
	}
	if result.Pushed != 1 {
		t.Fatalf("expected 1 pushed, got %d", result.Pushed)
	}

	body, _ := posted["body"].(map[string]any)
	if body["contentType"] != "HTML" {
		t.Errorf("expected HTML body content type, got %v", body["contentType"])
	}
	organizer, _ := posted["organizer"].(map[string]any)
	email, _ := organizer["emailAddress"].(map[string]any)
	if email["address"] != "owner@example.com" {
		t.Errorf("expected the account owner as organizer, got %v", posted["organizer"])
	}
}

func TestRecurrenceShiftRebuildsOccurrences(t *testing.T) {
	day := time.Now()
	format := func(d time.Time) string { return d.Format("2006-01-02") }

	event := map[string]any{
		"id":      "ev1",
		"subject": "Weekly standup",
		"start":   map[string]any{"dateTime": format(day) + "T10:00:00", "timeZone": "UTC"},
		"end":     map[string]any{"dateTime": format(day) + "T10:30:00", "timeZone": "UTC"},
		"recurrence": map[string]any{
			"pattern": map[string]any{"type": "weekly", "interval": 1},
			"range": map[string]any{
				"type": "endDate", "startDate": format(day), "endDate": format(day.AddDate(0, 0, 28)),
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id": "cal1", "name": "Calendar", "isDefaultCalendar": true, "canEdit": true,
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, event)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	result := engine.SyncCalendars(context.Background(), account)
	if !result.Success {
		t.Fatalf("first sync failed: %s %v", result.Message, result.Errors)
	}

	calendar, err := database.GetCalendarByRemoteID(account.ID, "cal1")
	if err != nil {
		t.Fatalf("calendar not found: %v", err)
	}
	parent, err := database.GetEventByRemoteID(calendar.ID, "ev1")
	if err != nil {
		t.Fatalf("parent event not found: %v", err)
	}
	before, err := database.ListChildEvents(parent.ID)
	if err != nil || len(before) == 0 {
		t.Fatalf("expected materialized occurrences, got %d (%v)", len(before), err)
	}

	// The whole series moves one day later. The occurrence count stays
	// the same, so only the dates reveal the edit.
	shifted := day.AddDate(0, 0, 1)
	event["start"] = map[string]any{"dateTime": format(shifted) + "T10:00:00", "timeZone": "UTC"}
	event["end"] = map[string]any{"dateTime": format(shifted) + "T10:30:00", "timeZone": "UTC"}
	event["recurrence"] = map[string]any{
		"pattern": map[string]any{"type": "weekly", "interval": 1},
		"range": map[string]any{
			"type": "endDate", "startDate": format(shifted), "endDate": format(shifted.AddDate(0, 0, 28)),
		},
	}
	event["lastModifiedDateTime"] = time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	reloaded, err := database.GetOfficeAccountByID(account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	result = engine.SyncCalendars(context.Background(), reloaded)
	if !result.Success {
		t.Fatalf("second sync failed: %s %v", result.Message, result.Errors)
	}

	after, err := database.ListChildEvents(parent.ID)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("occurrence count should be preserved, got %d then %d", len(before), len(after))
	}
	for i := range after {
		want := before[i].StartAt.AddDate(0, 0, 1)
		if !after[i].StartAt.Equal(want) {
			t.Errorf("occurrence %d should move to %v, got %v", i, want, after[i].StartAt)
		}
	}
}

func TestEventPushReportsRecurrenceLookupFailure(t *testing.T) {
	posts := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]any{
			"id": "cal1", "name": "Calendar", "isDefaultCalendar": true, "canEdit": true,
		})
	})
	mux.HandleFunc("/me/calendars/cal1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			w.WriteHeader(http.StatusCreated)
			writeObject(w, map[string]any{"id": "ev-new"})
			return
		}
		writePage(w)
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	calendar := &db.Calendar{
		Office365ID: "cal1",
		AccountID:   account.ID,
		UserID:      account.UserID,
		Name:        "Calendar",
		IsEditable:  true,
	}
	if err := database.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to upsert calendar: %v", err)
	}
	start := time.Now().Add(24 * time.Hour)
	event := &db.Event{
		CalendarID: calendar.ID,
		Subject:    "Kickoff",
		StartAt:    start,
		EndAt:      start.Add(time.Hour),
	}
	if err := database.SaveEvent(event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	// Break the recurrence lookup; the push must surface the failure
	// instead of silently sending the event as non-recurring.
	if _, err := database.Conn().Exec(`DROP TABLE recurrence_rules`); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	result := engine.SyncCalendars(context.Background(), account)
	if len(result.Errors) == 0 {
		t.Fatal("the recurrence lookup failure should be reported")
	}
	if posts != 0 {
		t.Errorf("no event should be pushed when its payload cannot be built, got %d posts", posts)
	}
}

func TestSyncAbortsWithoutAdvancingOnFetchFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeObject(w, map[string]any{"error": map[string]any{"message": "token expired"}})
	})

	engine, database, account, cleanup := setupTestEngine(t, mux)
	defer cleanup()

	result := engine.SyncContacts(context.Background(), account)
	if result.Success {
		t.Fatal("sync against a failing endpoint should not succeed")
	}

	reloaded, err := database.GetOfficeAccountByID(account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.LastContactSyncAt != nil {
		t.Error("last sync mark must not advance on an aborted cycle")
	}
	if reloaded.LastSyncStatus != db.SyncStatusError {
		t.Errorf("account status should record the failure, got %s", reloaded.LastSyncStatus)
	}
}

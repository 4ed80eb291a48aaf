package ical

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
)

func setupTestExporter(t *testing.T) (*Exporter, *db.DB, *db.Calendar, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "officebridge-ical-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	user, err := database.GetOrCreateUser("owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	account := &db.OfficeAccount{UserID: user.ID, Name: "Work", Enabled: true}
	if err := database.CreateOfficeAccount(account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	calendar := &db.Calendar{Office365ID: "cal1", AccountID: account.ID, Name: "Team"}
	if err := database.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to create calendar: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tempDir)
	}
	return NewExporter(database), database, calendar, cleanup
}

func TestExportRendersEvents(t *testing.T) {
	exporter, database, calendar, cleanup := setupTestExporter(t)
	defer cleanup()

	event := &db.Event{
		CalendarID:  calendar.ID,
		Subject:     "Planning",
		Description: "Quarterly planning",
		StartAt:     time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndAt:       time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		Location:    "Room 4",
	}
	if err := database.SaveEvent(event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	output, err := exporter.Export(calendar)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-WR-CALNAME:Team",
		"BEGIN:VEVENT",
		"SUMMARY:Planning",
		"LOCATION:Room 4",
		"STATUS:CONFIRMED",
		"END:VEVENT",
		"END:VCALENDAR",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestExportSkipsChildOccurrences(t *testing.T) {
	exporter, database, calendar, cleanup := setupTestExporter(t)
	defer cleanup()

	parent := &db.Event{
		CalendarID: calendar.ID,
		Subject:    "Standup",
		StartAt:    time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2026, 9, 7, 9, 15, 0, 0, time.UTC),
	}
	if err := database.SaveEvent(parent); err != nil {
		t.Fatalf("failed to save parent: %v", err)
	}
	rule := &db.RecurrenceRule{
		EventID:     parent.ID,
		Type:        db.RecurrenceWeek,
		Periodicity: 1,
		WeekdayMask: db.WeekdayMonday,
		StartDate:   parent.StartAt,
		EndDate:     time.Date(2026, 12, 28, 9, 0, 0, 0, time.UTC),
		EndType:     db.RecurrenceEndDate,
	}
	if err := database.UpsertRecurrenceRule(rule); err != nil {
		t.Fatalf("failed to save rule: %v", err)
	}
	child := &db.Event{
		CalendarID:    calendar.ID,
		ParentEventID: parent.ID,
		Subject:       "Standup",
		StartAt:       parent.StartAt.AddDate(0, 0, 7),
		EndAt:         parent.EndAt.AddDate(0, 0, 7),
	}
	if err := database.SaveEvent(child); err != nil {
		t.Fatalf("failed to save child: %v", err)
	}

	output, err := exporter.Export(calendar)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if got := strings.Count(output, "BEGIN:VEVENT"); got != 1 {
		t.Errorf("expected a single VEVENT for the series, got %d", got)
	}
	if !strings.Contains(output, "RRULE:FREQ=WEEKLY") {
		t.Error("series should carry an RRULE")
	}
	if !strings.Contains(output, "BYDAY=MO") {
		t.Error("weekly rule should carry its BYDAY")
	}
}

func TestRRuleValueCount(t *testing.T) {
	rule := &db.RecurrenceRule{
		Type:        db.RecurrenceDay,
		Periodicity: 2,
		EndType:     db.RecurrenceEndCount,
		Count:       10,
		StartDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	got := rruleValue(rule)
	if got != "FREQ=DAILY;INTERVAL=2;COUNT=10" {
		t.Errorf("unexpected rrule %q", got)
	}
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// runCalendars runs a calendars cycle. With onlyCalendarID set, the
// remote calendar list is not refreshed and only that calendar's events
// are reconciled.
func (c *cycle) runCalendars(ctx context.Context, onlyCalendarID string) error {
	if onlyCalendarID != "" {
		calendar, err := c.engine.db.GetCalendarByID(onlyCalendarID)
		if err != nil {
			return err
		}
		if calendar.AccountID != c.account.ID {
			return fmt.Errorf("calendar %s does not belong to account %s", onlyCalendarID, c.account.ID)
		}
		return c.syncCalendarEvents(ctx, calendar)
	}

	if err := c.pullCalendars(ctx); err != nil {
		return err
	}

	calendars, err := c.engine.db.ListCalendars(c.account.ID)
	if err != nil {
		return err
	}
	for _, calendar := range calendars {
		if calendar.Office365ID == "" {
			continue
		}
		if err := c.syncCalendarEvents(ctx, calendar); err != nil {
			if fatal(err) {
				return err
			}
			c.failf("sync calendar %s: %v", calendar.Name, err)
		}
	}
	return nil
}

// pullCalendars refreshes the local calendar list and archives
// calendars that disappeared remotely.
func (c *cycle) pullCalendars(ctx context.Context) error {
	records, err := c.client.FetchAll(ctx, "me/calendars", c.engine.opts.PageSize, nil)
	if err != nil {
		return err
	}

	remote := remoteIDSet(records)
	for _, record := range records {
		if isRemoved(record) {
			continue
		}
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		isDefault := graph.Bool(record, "isDefaultCalendar")
		calendar := &db.Calendar{
			Office365ID: remoteID,
			AccountID:   c.account.ID,
			UserID:      c.account.UserID,
			Name:        graph.Str(record, "name"),
			IsDefault:   isDefault,
			IsRemovable: !isDefault,
			IsEditable:  graph.Bool(record, "canEdit"),
		}
		if err := c.engine.db.UpsertCalendar(calendar); err != nil {
			c.failf("save calendar %s: %v", calendar.Name, err)
		}
	}

	locals, err := c.engine.db.ListCalendars(c.account.ID)
	if err != nil {
		return err
	}
	for _, calendar := range locals {
		if calendar.Office365ID == "" || remote[calendar.Office365ID] {
			continue
		}
		if err := c.engine.db.ArchiveCalendarCascade(calendar.ID); err != nil {
			c.failf("archive calendar %s: %v", calendar.Name, err)
			continue
		}
		c.result.Deleted++
	}
	return nil
}

// syncCalendarEvents reconciles one calendar: pull, removal sweep, push.
func (c *cycle) syncCalendarEvents(ctx context.Context, calendar *db.Calendar) error {
	window := c.window(calendar.SyncWeeks)

	records, err := c.client.FetchAll(ctx, "me/calendars/"+calendar.Office365ID+"/events", c.engine.opts.PageSize, nil)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, record := range records {
		remoteID := graph.Str(record, "id")
		if remoteID == "" {
			continue
		}
		if isRemoved(record) {
			c.removeEventByRemoteID(calendar, remoteID, window)
			continue
		}
		seen[remoteID] = true
		if err := c.pullEvent(calendar, record, window); err != nil {
			c.failf("pull event %s: %v", remoteID, err)
		}
	}

	c.sweepEvents(calendar, seen, window)

	if calendar.IsEditable {
		if err := c.pushEvents(ctx, calendar); err != nil {
			return err
		}
	}

	if err := c.engine.db.StampCalendarSynced(calendar.ID, c.start); err != nil {
		c.failf("stamp calendar %s: %v", calendar.Name, err)
	}
	return nil
}

func (c *cycle) pullEvent(calendar *db.Calendar, record map[string]any, window Window) error {
	database := c.engine.db
	remoteID := graph.Str(record, "id")

	event, err := database.GetEventByRemoteID(calendar.ID, remoteID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	created, _ := graph.Time(record, "createdDateTime", time.UTC)
	modified, _ := graph.Time(record, "lastModifiedDateTime", time.UTC)
	if event != nil {
		local := LocalStamps{CreatedOn: event.CreatedAt, UpdatedOn: event.UpdatedAt}
		if !NeedsPull(RemoteStamps{Created: created, Modified: modified}, local, c.lastSync) {
			c.result.Skipped++
			return nil
		}
	} else {
		event = &db.Event{CalendarID: calendar.ID, Office365ID: remoteID}
	}

	if err := mapEvent(record, event, c.engine.opts.Location); err != nil {
		return err
	}

	var rule *db.RecurrenceRule
	if recurrence := graph.Child(record, "recurrence"); recurrence != nil {
		rule = recurrenceFromRecord(recurrence, event.StartAt, c.engine.opts.Location)
	}

	// Events outside the delta window are ignored unless an occurrence
	// of their series falls inside it.
	if rule == nil {
		if !window.CoversSpan(event.StartAt, event.EndAt) {
			c.result.Skipped++
			return nil
		}
	} else if !OccursInWindow(rule, window) {
		c.result.Skipped++
		return nil
	}

	if organizer := graph.Child(graph.Child(record, "organizer"), "emailAddress"); organizer != nil {
		if address := graph.Str(organizer, "address"); address != "" {
			if user, err := database.GetUserByEmail(address); err == nil {
				event.OrganizerUserID = user.ID
			}
		}
	}

	if err := database.SaveEvent(event); err != nil {
		return err
	}

	if err := c.replaceAttendees(event, record); err != nil {
		return err
	}

	if rule != nil {
		rule.EventID = event.ID
		if err := database.UpsertRecurrenceRule(rule); err != nil {
			return err
		}
		if calendar.SyncMode == db.SyncModeCRM {
			if err := c.materializeOccurrences(event, rule); err != nil {
				return err
			}
		}
	} else {
		if err := database.DeleteRecurrenceRule(event.ID); err != nil {
			return err
		}
	}

	// Stamp after the saves so the pull does not re-dirty the event.
	if err := database.StampEventSynced(event.ID, event.Office365ID, time.Now().UTC()); err != nil {
		return err
	}

	c.result.Pulled++
	return nil
}

func (c *cycle) replaceAttendees(event *db.Event, record map[string]any) error {
	var attendees []*db.EventAttendee
	for _, entry := range graph.Children(record, "attendees") {
		email := graph.Child(entry, "emailAddress")
		address := graph.Str(email, "address")
		if address == "" {
			continue
		}
		row, err := c.engine.db.GetOrCreateEmailAddress(address, graph.Str(email, "name"))
		if err != nil {
			return err
		}
		kind := db.AttendeeRequired
		if graph.Str(entry, "type") == "optional" {
			kind = db.AttendeeOptional
		}
		attendees = append(attendees, &db.EventAttendee{EmailAddressID: row.ID, Type: kind})
	}
	if attendees == nil {
		return nil
	}
	return c.engine.db.ReplaceEventAttendees(event.ID, attendees)
}

// materializeOccurrences keeps one child event per occurrence of the
// series after the first, which the parent itself represents.
func (c *cycle) materializeOccurrences(parent *db.Event, rule *db.RecurrenceRule) error {
	database := c.engine.db

	// Rebuild from scratch whenever the series is pulled. A rule edit
	// can keep the occurrence count while moving every date, so the
	// existing children cannot be trusted.
	existing, err := database.ListChildEvents(parent.ID)
	if err != nil {
		return err
	}
	for _, child := range existing {
		if err := database.DeleteEventCascade(child.ID); err != nil {
			return err
		}
	}

	dates := Occurrences(rule)
	if len(dates) < 2 {
		return nil
	}
	children := dates[1:]

	duration := parent.EndAt.Sub(parent.StartAt)
	for _, date := range children {
		child := &db.Event{
			CalendarID:      parent.CalendarID,
			ParentEventID:   parent.ID,
			Subject:         parent.Subject,
			Description:     parent.Description,
			StartAt:         date,
			EndAt:           date.Add(duration),
			AllDay:          parent.AllDay,
			Visibility:      parent.Visibility,
			Availability:    parent.Availability,
			Location:        parent.Location,
			Geo:             parent.Geo,
			Status:          parent.Status,
			Category:        parent.Category,
			IsOrganizer:     parent.IsOrganizer,
			OrganizerUserID: parent.OrganizerUserID,
			ReminderMinutes: parent.ReminderMinutes,
		}
		if err := database.SaveEvent(child); err != nil {
			return err
		}
	}
	return nil
}

// sweepEvents removes local events whose remote id was not seen this
// cycle, provided they fall inside the delta window.
func (c *cycle) sweepEvents(calendar *db.Calendar, seen map[string]bool, window Window) {
	ids, err := c.engine.db.ListEventRemoteIDs(calendar.ID)
	if err != nil {
		c.failf("list events of %s: %v", calendar.Name, err)
		return
	}
	for _, remoteID := range ids {
		if seen[remoteID] {
			continue
		}
		c.removeEventByRemoteID(calendar, remoteID, window)
	}
}

func (c *cycle) removeEventByRemoteID(calendar *db.Calendar, remoteID string, window Window) {
	database := c.engine.db
	event, err := database.GetEventByRemoteID(calendar.ID, remoteID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		c.failf("load event %s: %v", remoteID, err)
		return
	}

	inWindow := window.CoversSpan(event.StartAt, event.EndAt)
	if !inWindow {
		rule, err := database.GetRecurrenceRule(event.ID)
		if err != nil || !OccursInWindow(rule, window) {
			return
		}
	}

	if err := database.DeleteEventCascade(event.ID); err != nil {
		c.failf("delete event %s: %v", event.Subject, err)
		return
	}
	c.result.Deleted++
}

func (c *cycle) pushEvents(ctx context.Context, calendar *db.Calendar) error {
	dirty, err := c.engine.db.ListDirtyEvents(calendar.ID, c.lastSync, c.start)
	if err != nil {
		return err
	}

	for _, event := range dirty {
		if err := c.pushEvent(ctx, calendar, event); err != nil {
			if fatal(err) {
				return err
			}
			c.failf("push event %s: %v", event.Subject, err)
			continue
		}
		c.result.Pushed++
	}
	return nil
}

func (c *cycle) pushEvent(ctx context.Context, calendar *db.Calendar, event *db.Event) error {
	payload, err := c.eventPayload(event)
	if err != nil {
		return err
	}

	if event.Office365ID != "" {
		_, err := c.client.PatchJSON(ctx,
			"me/calendars/"+calendar.Office365ID+"/events/"+event.Office365ID, payload)
		if err != nil {
			return err
		}
		return c.engine.db.StampEventSynced(event.ID, event.Office365ID, c.start)
	}

	remoteID, _, err := c.client.PostJSON(ctx,
		"me/calendars/"+calendar.Office365ID+"/events", payload, "events")
	if err != nil {
		return err
	}
	if remoteID == "" {
		return fmt.Errorf("create returned no event id")
	}
	return c.engine.db.StampEventSynced(event.ID, remoteID, c.start)
}

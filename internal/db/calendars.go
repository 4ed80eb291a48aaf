package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertCalendar creates or updates a calendar keyed by its remote id.
// Defaults for new rows: CRM mode, 10-week window.
func (db *DB) UpsertCalendar(calendar *Calendar) error {
	now := time.Now().UTC()

	query := `UPDATE calendars SET name = ?, is_default = ?, is_removable = ?, is_editable = ?, updated_at = ?
		WHERE account_id = ? AND office365_id = ?`

	result, err := db.conn.Exec(query, calendar.Name, calendar.IsDefault, calendar.IsRemovable,
		calendar.IsEditable, now, calendar.AccountID, calendar.Office365ID)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if calendar.ID == "" {
			calendar.ID = uuid.New().String()
		}
		if calendar.SyncMode == "" {
			calendar.SyncMode = SyncModeCRM
		}
		if calendar.SyncWeeks == 0 {
			calendar.SyncWeeks = 10
		}
		calendar.CreatedAt = now
		calendar.UpdatedAt = now

		insert := `INSERT INTO calendars (
			id, office365_id, account_id, user_id, name, is_default, is_removable, is_editable,
			sync_mode, sync_weeks, keep_remote, archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err = db.conn.Exec(insert, calendar.ID, nullable(calendar.Office365ID), calendar.AccountID,
			nullable(calendar.UserID), calendar.Name, calendar.IsDefault, calendar.IsRemovable,
			calendar.IsEditable, calendar.SyncMode, calendar.SyncWeeks, calendar.KeepRemote,
			calendar.Archived, calendar.CreatedAt, calendar.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert calendar: %w", err)
		}
	}

	return nil
}

// GetCalendarByID returns a calendar by its local id.
func (db *DB) GetCalendarByID(id string) (*Calendar, error) {
	query := calendarSelect + ` WHERE id = ?`
	return scanCalendar(db.conn.QueryRow(query, id))
}

// GetCalendarByRemoteID returns a calendar by its remote id.
func (db *DB) GetCalendarByRemoteID(accountID, office365ID string) (*Calendar, error) {
	query := calendarSelect + ` WHERE account_id = ? AND office365_id = ?`
	return scanCalendar(db.conn.QueryRow(query, accountID, office365ID))
}

// ListCalendars returns all non-archived calendars of an account.
func (db *DB) ListCalendars(accountID string) ([]*Calendar, error) {
	query := calendarSelect + ` WHERE account_id = ? AND archived = 0 ORDER BY name`
	return db.queryCalendars(query, accountID)
}

// UpdateCalendarSettings changes the user-tunable sync settings of a
// calendar.
func (db *DB) UpdateCalendarSettings(calendarID string, mode CalendarSyncMode, weeks int, keepRemote bool) error {
	result, err := db.conn.Exec(`UPDATE calendars SET sync_mode = ?, sync_weeks = ?, keep_remote = ?, updated_at = ?
		WHERE id = ?`, mode, weeks, keepRemote, time.Now().UTC(), calendarID)
	if err != nil {
		return fmt.Errorf("failed to update calendar settings: %w", err)
	}
	return requireAffected(result)
}

// StampCalendarSynced records the end of a successful calendar sweep.
func (db *DB) StampCalendarSynced(calendarID string, at time.Time) error {
	result, err := db.conn.Exec(`UPDATE calendars SET last_sync_at = ? WHERE id = ?`, at.UTC(), calendarID)
	if err != nil {
		return fmt.Errorf("failed to stamp calendar synced: %w", err)
	}
	return requireAffected(result)
}

// ArchiveCalendarCascade handles a calendar that disappeared remotely:
// unlink any batch jobs, remove its events, archive it, and clear the
// remote id, all in one transaction.
func (db *DB) ArchiveCalendarCascade(calendarID string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM batch_job_calendars WHERE calendar_id = ?`, calendarID); err != nil {
			return fmt.Errorf("failed to unlink batch jobs: %w", err)
		}
		if _, err := tx.Exec(`UPDATE events SET parent_event_id = NULL WHERE calendar_id = ?`, calendarID); err != nil {
			return fmt.Errorf("failed to detach calendar events: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM events WHERE calendar_id = ?`, calendarID); err != nil {
			return fmt.Errorf("failed to delete calendar events: %w", err)
		}
		if _, err := tx.Exec(`UPDATE calendars SET archived = 1, office365_id = NULL, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), calendarID); err != nil {
			return fmt.Errorf("failed to archive calendar: %w", err)
		}
		return nil
	})
}

func (db *DB) queryCalendars(query string, args ...any) ([]*Calendar, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var calendars []*Calendar
	for rows.Next() {
		calendar, err := scanCalendarFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}
		calendars = append(calendars, calendar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}

	return calendars, nil
}

// GetEventByRemoteID returns an event on a calendar by its remote id.
func (db *DB) GetEventByRemoteID(calendarID, office365ID string) (*Event, error) {
	query := eventSelect + ` WHERE calendar_id = ? AND office365_id = ?`
	return scanEvent(db.conn.QueryRow(query, calendarID, office365ID))
}

// GetEventByID returns an event by its local id.
func (db *DB) GetEventByID(id string) (*Event, error) {
	query := eventSelect + ` WHERE id = ?`
	return scanEvent(db.conn.QueryRow(query, id))
}

// SaveEvent inserts or updates an event by its local id.
func (db *DB) SaveEvent(event *Event) error {
	now := time.Now().UTC()

	if event.ID == "" {
		event.ID = uuid.New().String()
		if event.Visibility == "" {
			event.Visibility = VisibilityPublic
		}
		if event.Availability == "" {
			event.Availability = AvailabilityBusy
		}
		if event.Status == "" {
			event.Status = EventStatusPlanned
		}
		event.CreatedAt = now
		event.UpdatedAt = now

		query := `INSERT INTO events (
			id, office365_id, calendar_id, parent_event_id, subject, description,
			start_at, end_at, all_day, visibility, availability, location, geo,
			status, category, is_organizer, organizer_user_id, reminder_minutes,
			last_office_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := db.conn.Exec(query,
			event.ID, nullable(event.Office365ID), event.CalendarID, nullable(event.ParentEventID),
			event.Subject, event.Description, event.StartAt.UTC(), event.EndAt.UTC(), event.AllDay,
			event.Visibility, event.Availability, event.Location, event.Geo,
			event.Status, event.Category, event.IsOrganizer, nullable(event.OrganizerUserID),
			event.ReminderMinutes, nullableTime(event.LastOfficeSyncAt),
			event.CreatedAt, event.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	}

	event.UpdatedAt = now
	query := `UPDATE events SET
		office365_id = ?, calendar_id = ?, parent_event_id = ?, subject = ?, description = ?,
		start_at = ?, end_at = ?, all_day = ?, visibility = ?, availability = ?, location = ?,
		geo = ?, status = ?, category = ?, is_organizer = ?, organizer_user_id = ?,
		reminder_minutes = ?, last_office_sync_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		nullable(event.Office365ID), event.CalendarID, nullable(event.ParentEventID),
		event.Subject, event.Description, event.StartAt.UTC(), event.EndAt.UTC(), event.AllDay,
		event.Visibility, event.Availability, event.Location, event.Geo,
		event.Status, event.Category, event.IsOrganizer, nullable(event.OrganizerUserID),
		event.ReminderMinutes, nullableTime(event.LastOfficeSyncAt),
		event.UpdatedAt, event.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	return requireAffected(result)
}

// StampEventSynced records a successful push without bumping updated_at,
// so the push itself does not re-dirty the event.
func (db *DB) StampEventSynced(eventID, office365ID string, at time.Time) error {
	result, err := db.conn.Exec(`UPDATE events SET office365_id = ?, last_office_sync_at = ? WHERE id = ?`,
		nullable(office365ID), at.UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to stamp event synced: %w", err)
	}
	return requireAffected(result)
}

// ListEventRemoteIDs returns the non-null remote ids of parent events on a
// calendar.
func (db *DB) ListEventRemoteIDs(calendarID string) ([]string, error) {
	query := `SELECT office365_id FROM events
		WHERE calendar_id = ? AND office365_id IS NOT NULL AND parent_event_id IS NULL`

	rows, err := db.conn.Query(query, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event remote ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event remote id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event remote ids: %w", err)
	}

	return ids, nil
}

// ListParentEvents returns all parent (non-child) events on a calendar.
func (db *DB) ListParentEvents(calendarID string) ([]*Event, error) {
	query := eventSelect + ` WHERE calendar_id = ? AND parent_event_id IS NULL`
	return db.queryEvents(query, calendarID)
}

// ListChildEvents returns the materialized occurrences of a recurring
// parent event.
func (db *DB) ListChildEvents(parentEventID string) ([]*Event, error) {
	query := eventSelect + ` WHERE parent_event_id = ? ORDER BY start_at`
	return db.queryEvents(query, parentEventID)
}

// ListDirtyEvents returns parent events on a calendar needing a push this
// cycle.
func (db *DB) ListDirtyEvents(calendarID string, lastSync *time.Time, start time.Time) ([]*Event, error) {
	query := eventSelect + ` WHERE calendar_id = ? AND parent_event_id IS NULL AND (` + dirtyPredicate("events") + `)`
	return db.queryEvents(query, dirtyArgs(calendarID, lastSync, start)...)
}

// DeleteEventCascade removes an event and its child occurrences in one
// transaction. Children are detached before the parent goes.
func (db *DB) DeleteEventCascade(eventID string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE events SET office365_id = NULL, parent_event_id = NULL
			WHERE parent_event_id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to detach child events: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM events WHERE parent_event_id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to delete child events: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM events WHERE id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
}

func (db *DB) queryEvents(query string, args ...any) ([]*Event, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEventFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// ReplaceEventAttendees replaces the attendee set of an event.
func (db *DB) ReplaceEventAttendees(eventID string, attendees []*EventAttendee) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM event_attendees WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to clear event attendees: %w", err)
		}
		for _, attendee := range attendees {
			if attendee.ID == "" {
				attendee.ID = uuid.New().String()
			}
			attendee.EventID = eventID
			_, err := tx.Exec(`INSERT OR IGNORE INTO event_attendees (id, event_id, email_address_id, type)
				VALUES (?, ?, ?, ?)`,
				attendee.ID, attendee.EventID, attendee.EmailAddressID, attendee.Type)
			if err != nil {
				return fmt.Errorf("failed to insert event attendee: %w", err)
			}
		}
		return nil
	})
}

// ListEventAttendees returns the attendees of an event with their
// addresses joined in.
func (db *DB) ListEventAttendees(eventID string) ([]*EventAttendee, error) {
	query := `SELECT a.id, a.event_id, a.email_address_id, a.type, e.address, e.name
		FROM event_attendees a JOIN email_addresses e ON e.id = a.email_address_id
		WHERE a.event_id = ?`

	rows, err := db.conn.Query(query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event attendees: %w", err)
	}
	defer rows.Close()

	var attendees []*EventAttendee
	for rows.Next() {
		attendee := &EventAttendee{}
		err := rows.Scan(&attendee.ID, &attendee.EventID, &attendee.EmailAddressID,
			&attendee.Type, &attendee.Address, &attendee.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event attendee: %w", err)
		}
		attendees = append(attendees, attendee)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event attendees: %w", err)
	}

	return attendees, nil
}

// UpsertRecurrenceRule creates or replaces the recurrence rule of an event.
func (db *DB) UpsertRecurrenceRule(rule *RecurrenceRule) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM recurrence_rules WHERE event_id = ?`, rule.EventID); err != nil {
			return fmt.Errorf("failed to clear recurrence rule: %w", err)
		}
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		_, err := tx.Exec(`INSERT INTO recurrence_rules (
			id, event_id, type, periodicity, weekday_mask, month_repeat_type,
			start_date, end_date, end_type, count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.EventID, rule.Type, rule.Periodicity, rule.WeekdayMask,
			rule.MonthRepeatType, rule.StartDate.UTC(), rule.EndDate.UTC(), rule.EndType, rule.Count)
		if err != nil {
			return fmt.Errorf("failed to insert recurrence rule: %w", err)
		}
		return nil
	})
}

// GetRecurrenceRule returns the recurrence rule of an event.
func (db *DB) GetRecurrenceRule(eventID string) (*RecurrenceRule, error) {
	query := `SELECT id, event_id, type, periodicity, weekday_mask, month_repeat_type,
		start_date, end_date, end_type, count
		FROM recurrence_rules WHERE event_id = ?`

	row := db.conn.QueryRow(query, eventID)

	rule := &RecurrenceRule{}
	err := row.Scan(&rule.ID, &rule.EventID, &rule.Type, &rule.Periodicity, &rule.WeekdayMask,
		&rule.MonthRepeatType, &rule.StartDate, &rule.EndDate, &rule.EndType, &rule.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence rule: %w", err)
	}

	return rule, nil
}

// DeleteRecurrenceRule removes the recurrence rule of an event, if any.
func (db *DB) DeleteRecurrenceRule(eventID string) error {
	_, err := db.conn.Exec(`DELETE FROM recurrence_rules WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete recurrence rule: %w", err)
	}
	return nil
}

const calendarSelect = `SELECT id, office365_id, account_id, user_id, name,
	is_default, is_removable, is_editable, sync_mode, sync_weeks, keep_remote,
	archived, last_sync_at, created_at, updated_at
	FROM calendars`

func scanCalendarFields(row rowScanner) (*Calendar, error) {
	calendar := &Calendar{}
	var remoteID, userID sql.NullString
	var lastSync sql.NullTime

	err := row.Scan(
		&calendar.ID, &remoteID, &calendar.AccountID, &userID, &calendar.Name,
		&calendar.IsDefault, &calendar.IsRemovable, &calendar.IsEditable,
		&calendar.SyncMode, &calendar.SyncWeeks, &calendar.KeepRemote,
		&calendar.Archived, &lastSync, &calendar.CreatedAt, &calendar.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	calendar.Office365ID = remoteID.String
	calendar.UserID = userID.String
	if lastSync.Valid {
		calendar.LastSyncAt = &lastSync.Time
	}

	return calendar, nil
}

func scanCalendar(row *sql.Row) (*Calendar, error) {
	calendar, err := scanCalendarFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}
	return calendar, nil
}

const eventSelect = `SELECT id, office365_id, calendar_id, parent_event_id, subject, description,
	start_at, end_at, all_day, visibility, availability, location, geo, status, category,
	is_organizer, organizer_user_id, reminder_minutes, last_office_sync_at, created_at, updated_at
	FROM events`

func scanEventFields(row rowScanner) (*Event, error) {
	event := &Event{}
	var remoteID, parentID, organizerID sql.NullString
	var reminder sql.NullInt64
	var lastOfficeSync sql.NullTime

	err := row.Scan(
		&event.ID, &remoteID, &event.CalendarID, &parentID, &event.Subject, &event.Description,
		&event.StartAt, &event.EndAt, &event.AllDay, &event.Visibility, &event.Availability,
		&event.Location, &event.Geo, &event.Status, &event.Category,
		&event.IsOrganizer, &organizerID, &reminder, &lastOfficeSync,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Office365ID = remoteID.String
	event.ParentEventID = parentID.String
	event.OrganizerUserID = organizerID.String
	if reminder.Valid {
		minutes := int(reminder.Int64)
		event.ReminderMinutes = &minutes
	}
	if lastOfficeSync.Valid {
		event.LastOfficeSyncAt = &lastOfficeSync.Time
	}

	return event, nil
}

func scanEvent(row *sql.Row) (*Event, error) {
	event, err := scanEventFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	return event, nil
}

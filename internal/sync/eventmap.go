package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

func availabilityFromShowAs(showAs string) db.EventAvailability {
	switch showAs {
	case "busy":
		return db.AvailabilityBusy
	case "free":
		return db.AvailabilityFree
	case "oof":
		return db.AvailabilityAway
	case "tentative":
		return db.AvailabilityTentative
	case "workingElsewhere":
		return db.AvailabilityWorkingElsewhere
	}
	return db.AvailabilityUnknown
}

func showAsFromAvailability(availability db.EventAvailability) string {
	switch availability {
	case db.AvailabilityBusy:
		return "busy"
	case db.AvailabilityFree:
		return "free"
	case db.AvailabilityAway:
		return "oof"
	case db.AvailabilityTentative:
		return "tentative"
	case db.AvailabilityWorkingElsewhere:
		return "workingElsewhere"
	}
	return "unknown"
}

func visibilityFromSensitivity(sensitivity string) db.EventVisibility {
	switch sensitivity {
	case "private", "confidential", "personal":
		return db.VisibilityPrivate
	}
	return db.VisibilityPublic
}

func sensitivityFromVisibility(visibility db.EventVisibility) string {
	if visibility == db.VisibilityPrivate {
		return "private"
	}
	return "normal"
}

// weekdayNames in mask bit order, Monday first.
var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func weekdayMaskFromNames(names []any) int {
	mask := 0
	for _, raw := range names {
		name, ok := raw.(string)
		if !ok {
			continue
		}
		for i, candidate := range weekdayNames {
			if strings.EqualFold(name, candidate) {
				mask |= 1 << i
			}
		}
	}
	return mask
}

func weekdayNamesFromMask(mask int) []any {
	var names []any
	for i, name := range weekdayNames {
		if mask&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

// recurrenceFromRecord builds a local rule from a Graph recurrence
// object. The series start inherits the event's time of day so that
// materialized occurrences keep it.
func recurrenceFromRecord(recurrence map[string]any, eventStart time.Time, loc *time.Location) *db.RecurrenceRule {
	pattern := graph.Child(recurrence, "pattern")
	if pattern == nil {
		return nil
	}

	rule := &db.RecurrenceRule{Periodicity: 1}
	if interval, ok := graph.Int(pattern, "interval"); ok && interval > 0 {
		rule.Periodicity = interval
	}

	switch graph.Str(pattern, "type") {
	case "daily":
		rule.Type = db.RecurrenceDay
	case "weekly":
		rule.Type = db.RecurrenceWeek
		if days, ok := pattern["daysOfWeek"].([]any); ok {
			rule.WeekdayMask = weekdayMaskFromNames(days)
		}
	case "absoluteMonthly":
		rule.Type = db.RecurrenceMonth
		rule.MonthRepeatType = db.MonthRepeatByDate
	case "relativeMonthly":
		rule.Type = db.RecurrenceMonth
		rule.MonthRepeatType = db.MonthRepeatByWeek
	case "absoluteYearly", "relativeYearly":
		rule.Type = db.RecurrenceYear
	default:
		return nil
	}

	rule.StartDate = eventStart
	rangeObj := graph.Child(recurrence, "range")
	if start := graph.Str(rangeObj, "startDate"); start != "" {
		if day, err := time.ParseInLocation("2006-01-02", start, loc); err == nil {
			rule.StartDate = time.Date(day.Year(), day.Month(), day.Day(),
				eventStart.Hour(), eventStart.Minute(), eventStart.Second(), 0, loc)
		}
	}

	rule.EndType = db.RecurrenceEndDate
	switch graph.Str(rangeObj, "type") {
	case "numbered":
		rule.EndType = db.RecurrenceEndCount
		if count, ok := graph.Int(rangeObj, "numberOfOccurrences"); ok {
			rule.Count = count
		}
	default:
		if end := graph.Str(rangeObj, "endDate"); end != "" {
			if day, err := time.ParseInLocation("2006-01-02", end, loc); err == nil {
				rule.EndDate = time.Date(day.Year(), day.Month(), day.Day(),
					eventStart.Hour(), eventStart.Minute(), eventStart.Second(), 0, loc)
			}
		}
	}
	if rule.EndDate.IsZero() {
		rule.EndDate = SeriesEnd(rule)
	}

	return rule
}

// recurrencePayload builds the Graph recurrence object for a push.
func recurrencePayload(rule *db.RecurrenceRule) map[string]any {
	pattern := map[string]any{"interval": rule.Periodicity}
	switch rule.Type {
	case db.RecurrenceDay:
		pattern["type"] = "daily"
	case db.RecurrenceWeek:
		pattern["type"] = "weekly"
		if names := weekdayNamesFromMask(rule.WeekdayMask); names != nil {
			pattern["daysOfWeek"] = names
		}
	case db.RecurrenceMonth:
		if rule.MonthRepeatType == db.MonthRepeatByWeek {
			pattern["type"] = "relativeMonthly"
		} else {
			pattern["type"] = "absoluteMonthly"
			pattern["dayOfMonth"] = rule.StartDate.Day()
		}
	case db.RecurrenceYear:
		pattern["type"] = "absoluteYearly"
		pattern["dayOfMonth"] = rule.StartDate.Day()
		pattern["month"] = int(rule.StartDate.Month())
	default:
		return nil
	}

	rangeObj := map[string]any{
		"startDate": rule.StartDate.Format("2006-01-02"),
	}
	if rule.EndType == db.RecurrenceEndCount && rule.Count > 0 {
		rangeObj["type"] = "numbered"
		rangeObj["numberOfOccurrences"] = rule.Count
	} else {
		rangeObj["type"] = "endDate"
		rangeObj["endDate"] = SeriesEnd(rule).Format("2006-01-02")
	}

	return map[string]any{"pattern": pattern, "range": rangeObj}
}

// mapEvent copies Graph event fields onto a local event. Start and end
// are read from their own fields in the configured zone.
func mapEvent(record map[string]any, event *db.Event, loc *time.Location) error {
	start, err := graph.DateTimeField(record, "start", loc)
	if err != nil {
		return err
	}
	end, err := graph.DateTimeField(record, "end", loc)
	if err != nil {
		return err
	}
	event.StartAt = start
	event.EndAt = end

	event.Subject = graph.Str(record, "subject")
	event.Description = graph.Str(graph.Child(record, "body"), "content")
	if event.Description == "" {
		event.Description = graph.Str(record, "bodyPreview")
	}
	event.AllDay = graph.Bool(record, "isAllDay")
	event.Visibility = visibilityFromSensitivity(graph.Str(record, "sensitivity"))
	event.Availability = availabilityFromShowAs(graph.Str(record, "showAs"))
	event.IsOrganizer = graph.Bool(record, "isOrganizer")

	event.Status = db.EventStatusPlanned
	if graph.Bool(record, "isCancelled") {
		event.Status = db.EventStatusCanceled
	}

	if categories, ok := record["categories"].([]any); ok && len(categories) > 0 {
		if category, ok := categories[0].(string); ok {
			event.Category = category
		}
	}

	location := graph.Child(record, "location")
	event.Location = graph.Str(location, "displayName")
	event.Geo = ""
	if coordinates := graph.Child(location, "coordinates"); coordinates != nil {
		lat, latOK := coordinates["latitude"].(float64)
		lon, lonOK := coordinates["longitude"].(float64)
		if latOK && lonOK {
			event.Geo = fmt.Sprintf("%v;%v", lat, lon)
		}
	}

	event.ReminderMinutes = nil
	if graph.Bool(record, "isReminderOn") {
		if minutes, ok := graph.Int(record, "reminderMinutesBeforeStart"); ok {
			event.ReminderMinutes = &minutes
		}
	}

	return nil
}

// eventPayload builds the Graph event object for a push.
func (c *cycle) eventPayload(event *db.Event) (map[string]any, error) {
	payload := map[string]any{
		"isAllDay":    event.AllDay,
		"sensitivity": sensitivityFromVisibility(event.Visibility),
		"showAs":      showAsFromAvailability(event.Availability),
	}
	graph.PutStr(payload, "subject", event.Subject)
	if event.Description != "" {
		payload["body"] = map[string]any{"contentType": "HTML", "content": event.Description}
	}
	graph.PutDateTime(payload, "start", event.StartAt)
	graph.PutDateTime(payload, "end", event.EndAt)

	if event.Location != "" || event.Geo != "" {
		location := map[string]any{}
		graph.PutStr(location, "displayName", event.Location)
		if parts := strings.SplitN(event.Geo, ";", 2); len(parts) == 2 {
			lat, latErr := strconv.ParseFloat(parts[0], 64)
			lon, lonErr := strconv.ParseFloat(parts[1], 64)
			if latErr == nil && lonErr == nil {
				location["coordinates"] = map[string]any{
					"latitude":  lat,
					"longitude": lon,
				}
			}
		}
		payload["location"] = location
	}

	if event.Category != "" {
		payload["categories"] = []any{event.Category}
	}

	if event.ReminderMinutes != nil {
		payload["isReminderOn"] = true
		payload["reminderMinutesBeforeStart"] = *event.ReminderMinutes
	} else {
		payload["isReminderOn"] = false
	}

	organizerID := event.OrganizerUserID
	if organizerID == "" {
		organizerID = c.account.UserID
	}
	if organizerID != "" {
		if user, err := c.engine.db.GetUserByID(organizerID); err == nil && user.Email != "" {
			graph.PutEmail(payload, "organizer", user.Email, user.Name)
		}
	}

	attendees, err := c.engine.db.ListEventAttendees(event.ID)
	if err != nil {
		return nil, err
	}
	if len(attendees) > 0 {
		var entries []any
		for _, attendee := range attendees {
			entry := graph.EmailEntry(attendee.Address, attendee.Name)
			if entry == nil {
				continue
			}
			kind := "required"
			if attendee.Type == db.AttendeeOptional {
				kind = "optional"
			}
			entry["type"] = kind
			entries = append(entries, entry)
		}
		if entries != nil {
			payload["attendees"] = entries
		}
	}

	rule, err := c.engine.db.GetRecurrenceRule(event.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if recurrence := recurrencePayload(rule); recurrence != nil {
			payload["recurrence"] = recurrence
		}
	}

	return payload, nil
}

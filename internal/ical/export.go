package ical

import (
	"bytes"
	"fmt"
	"strings"

	goical "github.com/emersion/go-ical"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/sync"
)

const productID = "-//OfficeBridge//EN"

// Exporter renders local calendars as iCalendar documents.
type Exporter struct {
	db *db.DB
}

// NewExporter creates an exporter over the local store.
func NewExporter(database *db.DB) *Exporter {
	return &Exporter{db: database}
}

// Export renders every parent event of a calendar as a VEVENT. Child
// occurrences are represented by the parent's RRULE, not repeated.
func (e *Exporter) Export(calendar *db.Calendar) (string, error) {
	events, err := e.db.ListParentEvents(calendar.ID)
	if err != nil {
		return "", err
	}

	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, productID)
	cal.Props.SetText(goical.PropVersion, "2.0")
	calName := goical.NewProp("X-WR-CALNAME")
	calName.Value = calendar.Name
	cal.Props.Set(calName)

	for _, event := range events {
		component, err := e.eventComponent(event)
		if err != nil {
			return "", fmt.Errorf("event %s: %w", event.ID, err)
		}
		cal.Children = append(cal.Children, component)
	}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

func (e *Exporter) eventComponent(event *db.Event) (*goical.Component, error) {
	vevent := goical.NewEvent()
	vevent.Props.SetText(goical.PropUID, event.ID)
	vevent.Props.SetDateTime(goical.PropDateTimeStamp, event.UpdatedAt)
	vevent.Props.SetDateTime(goical.PropDateTimeStart, event.StartAt.UTC())
	vevent.Props.SetDateTime(goical.PropDateTimeEnd, event.EndAt.UTC())
	vevent.Props.SetText(goical.PropSummary, event.Subject)

	if event.Description != "" {
		vevent.Props.SetText(goical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(goical.PropLocation, event.Location)
	}
	if event.Category != "" {
		vevent.Props.SetText(goical.PropCategories, event.Category)
	}

	status := "CONFIRMED"
	if event.Status == db.EventStatusCanceled {
		status = "CANCELLED"
	}
	vevent.Props.SetText(goical.PropStatus, status)

	class := "PUBLIC"
	if event.Visibility == db.VisibilityPrivate {
		class = "PRIVATE"
	}
	vevent.Props.SetText(goical.PropClass, class)

	transparency := "OPAQUE"
	if event.Availability == db.AvailabilityFree {
		transparency = "TRANSPARENT"
	}
	vevent.Props.SetText(goical.PropTransparency, transparency)

	rule, err := e.db.GetRecurrenceRule(event.ID)
	if err == nil {
		prop := goical.NewProp(goical.PropRecurrenceRule)
		prop.Value = rruleValue(rule)
		vevent.Props.Set(prop)
	}

	attendees, err := e.db.ListEventAttendees(event.ID)
	if err != nil {
		return nil, err
	}
	for _, attendee := range attendees {
		prop := goical.NewProp(goical.PropAttendee)
		prop.Value = "mailto:" + attendee.Address
		if attendee.Name != "" {
			prop.Params.Set(goical.ParamCommonName, attendee.Name)
		}
		role := "REQ-PARTICIPANT"
		if attendee.Type == db.AttendeeOptional {
			role = "OPT-PARTICIPANT"
		}
		prop.Params.Set(goical.ParamRole, role)
		vevent.Props.Add(prop)
	}

	return vevent.Component, nil
}

// byDayCodes in weekday mask bit order, Monday first.
var byDayCodes = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// rruleValue renders a recurrence rule in RRULE syntax.
func rruleValue(rule *db.RecurrenceRule) string {
	var parts []string

	switch rule.Type {
	case db.RecurrenceDay:
		parts = append(parts, "FREQ=DAILY")
	case db.RecurrenceWeek:
		parts = append(parts, "FREQ=WEEKLY")
	case db.RecurrenceMonth:
		parts = append(parts, "FREQ=MONTHLY")
	case db.RecurrenceYear:
		parts = append(parts, "FREQ=YEARLY")
	}

	if rule.Periodicity > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rule.Periodicity))
	}

	if rule.Type == db.RecurrenceWeek && rule.WeekdayMask != 0 {
		var days []string
		for i, code := range byDayCodes {
			if rule.WeekdayMask&(1<<i) != 0 {
				days = append(days, code)
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if rule.EndType == db.RecurrenceEndCount && rule.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", rule.Count))
	} else {
		until := sync.SeriesEnd(rule).UTC().Format("20060102T150405Z")
		parts = append(parts, "UNTIL="+until)
	}

	return strings.Join(parts, ";")
}

package db

import (
	"time"
)

// SyncStatus represents the status of a sync cycle.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial" // Cycle completed with some skipped records
	SyncStatusError   SyncStatus = "error"   // Cycle failed due to critical error
)

// SyncFamily identifies one of the three independently synced object families.
type SyncFamily string

const (
	FamilyContacts  SyncFamily = "contacts"
	FamilyCalendars SyncFamily = "calendars"
	FamilyMail      SyncFamily = "mail"
)

// ValidSyncFamilies contains all valid sync family values.
var ValidSyncFamilies = map[SyncFamily]bool{
	FamilyContacts:  true,
	FamilyCalendars: true,
	FamilyMail:      true,
}

// IsValid returns true if the sync family is a known valid value.
func (f SyncFamily) IsValid() bool {
	return ValidSyncFamilies[f]
}

// CalendarSyncMode controls how events on a calendar are materialized.
type CalendarSyncMode string

const (
	// SyncModeGeneric mirrors events one-to-one.
	SyncModeGeneric CalendarSyncMode = "generic"
	// SyncModeCRM additionally materializes recurring occurrences as
	// child events owned by the recurring parent.
	SyncModeCRM CalendarSyncMode = "crm"
)

// ValidCalendarSyncModes contains all valid sync mode values.
var ValidCalendarSyncModes = map[CalendarSyncMode]bool{
	SyncModeGeneric: true,
	SyncModeCRM:     true,
}

// IsValid returns true if the sync mode is a known valid value.
func (m CalendarSyncMode) IsValid() bool {
	return ValidCalendarSyncModes[m]
}

// EventVisibility maps to the Graph "sensitivity" field.
type EventVisibility string

const (
	VisibilityPublic  EventVisibility = "public"
	VisibilityPrivate EventVisibility = "private"
)

// EventAvailability maps to the Graph "showAs" field.
type EventAvailability string

const (
	AvailabilityBusy             EventAvailability = "busy"
	AvailabilityFree             EventAvailability = "free"
	AvailabilityAway             EventAvailability = "away"
	AvailabilityTentative        EventAvailability = "tentative"
	AvailabilityWorkingElsewhere EventAvailability = "working_elsewhere"
	AvailabilityUnknown          EventAvailability = "unknown"
)

// EventStatus represents the local lifecycle state of an event.
type EventStatus string

const (
	EventStatusPlanned  EventStatus = "planned"
	EventStatusCanceled EventStatus = "canceled"
)

// AttendeeType maps to the Graph attendee "type" field.
type AttendeeType string

const (
	AttendeeRequired AttendeeType = "required"
	AttendeeOptional AttendeeType = "optional"
)

// MessageStatus represents the local lifecycle state of a mail message.
type MessageStatus string

const (
	MessageStatusDraft      MessageStatus = "draft"
	MessageStatusInProgress MessageStatus = "in_progress"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusDeleted    MessageStatus = "deleted"
)

// MessageType distinguishes sent from received mail.
type MessageType string

const (
	MessageTypeSent     MessageType = "sent"
	MessageTypeReceived MessageType = "received"
)

// RecipientKind distinguishes the recipient lists of a message.
type RecipientKind string

const (
	RecipientTo      RecipientKind = "to"
	RecipientCC      RecipientKind = "cc"
	RecipientBCC     RecipientKind = "bcc"
	RecipientReplyTo RecipientKind = "reply_to"
)

// RecurrenceType is the repeat period of a recurrence rule.
type RecurrenceType string

const (
	RecurrenceDay   RecurrenceType = "day"
	RecurrenceWeek  RecurrenceType = "week"
	RecurrenceMonth RecurrenceType = "month"
	RecurrenceYear  RecurrenceType = "year"
)

// MonthRepeatType selects absolute vs relative monthly repetition.
type MonthRepeatType string

const (
	MonthRepeatByDate MonthRepeatType = "month" // same day-of-month
	MonthRepeatByWeek MonthRepeatType = "week"  // same weekday-of-week
)

// RecurrenceEndType indicates how a recurrence terminates.
type RecurrenceEndType string

const (
	RecurrenceEndDate  RecurrenceEndType = "date"
	RecurrenceEndCount RecurrenceEndType = "count"
)

// Weekday bit positions for RecurrenceRule.WeekdayMask, Monday first.
const (
	WeekdayMonday = 1 << iota
	WeekdayTuesday
	WeekdayWednesday
	WeekdayThursday
	WeekdayFriday
	WeekdaySaturday
	WeekdaySunday
)

// CompanyIDPrefix marks the synthetic remote id of a company contact
// derived from a child contact's companyName.
const CompanyIDPrefix = "company_"

// User represents a local user. Users are created by the consent flow or
// synthesized from mail senders (code derived from the display name).
type User struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfficeAccount binds a local user to one Microsoft Graph identity.
// The refresh token and per-family last-sync marks are the only fields
// the sync engine mutates.
type OfficeAccount struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	RefreshToken       string     `json:"-"` // Never include in JSON
	Enabled            bool       `json:"enabled"`
	LastContactSyncAt  *time.Time `json:"last_contact_sync_at"`
	LastCalendarSyncAt *time.Time `json:"last_calendar_sync_at"`
	LastMailSyncAt     *time.Time `json:"last_mail_sync_at"`
	LastSyncStatus     SyncStatus `json:"last_sync_status"`
	LastSyncMessage    string     `json:"last_sync_message"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// LastSyncFor returns the last-sync mark for a family, nil when the
// family has never completed a cycle.
func (a *OfficeAccount) LastSyncFor(family SyncFamily) *time.Time {
	switch family {
	case FamilyContacts:
		return a.LastContactSyncAt
	case FamilyCalendars:
		return a.LastCalendarSyncAt
	case FamilyMail:
		return a.LastMailSyncAt
	}
	return nil
}

// EmailAddress is a globally deduplicated e-mail address.
// PartnerID binds the address to the partner it belongs to, if any.
type EmailAddress struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	PartnerID string    `json:"partner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailAccount is an outgoing mail account synthesized for a sender.
type EmailAccount struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Security  string    `json:"security"`
	Protocol  string    `json:"protocol"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactFolder mirrors a Graph contact folder.
type ContactFolder struct {
	ID             string    `json:"id"`
	Office365ID    string    `json:"office365_id"`
	AccountID      string    `json:"account_id"`
	Name           string    `json:"name"`
	ParentFolderID string    `json:"parent_folder_id"` // remote id of the parent folder
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Partner is a person or company contact. Companies synthesized from a
// child's companyName carry an Office365ID with the CompanyIDPrefix and
// are never pushed.
type Partner struct {
	ID             string     `json:"id"`
	Office365ID    string     `json:"office365_id"`
	AccountID      string     `json:"account_id"`
	FolderID       string     `json:"folder_id"` // local contact folder id
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	FullName       string     `json:"full_name"`
	Title          string     `json:"title"` // civility: m., ms., dr., prof.
	CompanyName    string     `json:"company_name"`
	IsCompany      bool       `json:"is_company"`
	ParentID       string     `json:"parent_id"` // local id of the company parent
	UserID         string     `json:"user_id"`   // set when this partner backs a user
	JobTitle       string     `json:"job_title"`
	MobilePhone    string     `json:"mobile_phone"`
	FixedPhone     string     `json:"fixed_phone"`
	Description    string     `json:"description"`
	Birthdate      *time.Time `json:"birthdate"`
	EmailAddressID string     `json:"email_address_id"` // primary address
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsSyntheticCompany returns true when this partner is a company created
// from a child contact's companyName.
func (p *Partner) IsSyntheticCompany() bool {
	return len(p.Office365ID) > len(CompanyIDPrefix) &&
		p.Office365ID[:len(CompanyIDPrefix)] == CompanyIDPrefix
}

// AddressKind distinguishes postal address slots on a partner.
type AddressKind string

const (
	AddressHome     AddressKind = "home"
	AddressBusiness AddressKind = "business"
	AddressOther    AddressKind = "other"
)

// PartnerAddress is one postal address of a partner.
type PartnerAddress struct {
	ID        string      `json:"id"`
	PartnerID string      `json:"partner_id"`
	Kind      AddressKind `json:"kind"`
	Street    string      `json:"street"`
	City      string      `json:"city"`
	State     string      `json:"state"`
	Zip       string      `json:"zip"`
	Country   string      `json:"country"`
	IsDefault bool        `json:"is_default"`
}

// Calendar mirrors a Graph calendar.
type Calendar struct {
	ID          string           `json:"id"`
	Office365ID string           `json:"office365_id"`
	AccountID   string           `json:"account_id"`
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	IsDefault   bool             `json:"is_default"`
	IsRemovable bool             `json:"is_removable"`
	IsEditable  bool             `json:"is_editable"`
	SyncMode    CalendarSyncMode `json:"sync_mode"`
	SyncWeeks   int              `json:"sync_weeks"` // delta window half-width
	KeepRemote  bool             `json:"keep_remote"`
	Archived    bool             `json:"archived"`
	LastSyncAt  *time.Time       `json:"last_sync_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event mirrors a Graph event. Recurring events on a CRM-mode calendar
// own child occurrences linked back via ParentEventID.
type Event struct {
	ID               string            `json:"id"`
	Office365ID      string            `json:"office365_id"`
	CalendarID       string            `json:"calendar_id"`
	ParentEventID    string            `json:"parent_event_id"`
	Subject          string            `json:"subject"`
	Description      string            `json:"description"`
	StartAt          time.Time         `json:"start_at"`
	EndAt            time.Time         `json:"end_at"`
	AllDay           bool              `json:"all_day"`
	Visibility       EventVisibility   `json:"visibility"`
	Availability     EventAvailability `json:"availability"`
	Location         string            `json:"location"`
	Geo              string            `json:"geo"` // "lat;lon", empty when unknown
	Status           EventStatus       `json:"status"`
	Category         string            `json:"category"`
	IsOrganizer      bool              `json:"is_organizer"`
	OrganizerUserID  string            `json:"organizer_user_id"`
	ReminderMinutes  *int              `json:"reminder_minutes"`
	LastOfficeSyncAt *time.Time        `json:"last_office_sync_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// EventAttendee is one attendee of an event, referencing a shared
// EmailAddress row.
type EventAttendee struct {
	ID             string       `json:"id"`
	EventID        string       `json:"event_id"`
	EmailAddressID string       `json:"email_address_id"`
	Type           AttendeeType `json:"type"`
	Address        string       `json:"address"` // populated via join
	Name           string       `json:"name"`    // populated via join
}

// RecurrenceRule describes how an event repeats. An absent EndDate is
// assigned StartDate + 20 years on creation.
type RecurrenceRule struct {
	ID              string            `json:"id"`
	EventID         string            `json:"event_id"`
	Type            RecurrenceType    `json:"type"`
	Periodicity     int               `json:"periodicity"`
	WeekdayMask     int               `json:"weekday_mask"`
	MonthRepeatType MonthRepeatType   `json:"month_repeat_type"`
	StartDate       time.Time         `json:"start_date"`
	EndDate         time.Time         `json:"end_date"`
	EndType         RecurrenceEndType `json:"end_type"`
	Count           int               `json:"count"`
}

// MailFolder mirrors a Graph mail folder.
type MailFolder struct {
	ID             string    `json:"id"`
	Office365ID    string    `json:"office365_id"`
	AccountID      string    `json:"account_id"`
	Name           string    `json:"name"`
	ParentFolderID string    `json:"parent_folder_id"`
	IsHidden       bool      `json:"is_hidden"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message mirrors a Graph mail message.
type Message struct {
	ID             string        `json:"id"`
	Office365ID    string        `json:"office365_id"`
	AccountID      string        `json:"account_id"`
	FolderID       string        `json:"folder_id"` // local mail folder id
	Subject        string        `json:"subject"`
	Content        string        `json:"content"`
	SentAt         *time.Time    `json:"sent_at"`
	ReceivedAt     *time.Time    `json:"received_at"`
	Status         MessageStatus `json:"status"`
	Type           MessageType   `json:"type"`
	FromEmailID    string        `json:"from_email_id"`
	SenderUserID   string        `json:"sender_user_id"`
	MailAccountID  string        `json:"mail_account_id"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MessageRecipient is one entry of a message's to/cc/bcc/replyTo lists.
type MessageRecipient struct {
	ID             string        `json:"id"`
	MessageID      string        `json:"message_id"`
	EmailAddressID string        `json:"email_address_id"`
	Kind           RecipientKind `json:"kind"`
	Address        string        `json:"address"` // populated via join
	Name           string        `json:"name"`    // populated via join
}

// BatchJob is a scheduled batch referencing calendars; removed calendars
// are unlinked from their jobs before archival.
type BatchJob struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncLog is one record of a completed (account, family) sync cycle.
type SyncLog struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"account_id"`
	Family      SyncFamily    `json:"family"`
	Status      SyncStatus    `json:"status"`
	Message     string        `json:"message"`
	Pulled      int           `json:"pulled"`
	Pushed      int           `json:"pushed"`
	Deleted     int           `json:"deleted"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// MailFolderNameFor maps a message status to the well-known Graph folder
// display name a pushed message belongs in.
func MailFolderNameFor(status MessageStatus) string {
	switch status {
	case MessageStatusDraft, MessageStatusInProgress:
		return "Drafts"
	case MessageStatusSent:
		return "Sent Items"
	case MessageStatusDeleted:
		return "Deleted Items"
	}
	return ""
}

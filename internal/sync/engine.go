package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/macjediwizard/officebridge/internal/auth"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// Result summarizes one (account, family) sync cycle.
type Result struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Pulled   int           `json:"pulled"`
	Pushed   int           `json:"pushed"`
	Deleted  int           `json:"deleted"`
	Skipped  int           `json:"skipped"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Options configures an Engine.
type Options struct {
	BaseURL           string
	PageSize          int
	WindowWeeks       int
	RequestsPerSecond float64
	Burst             int
	Location          *time.Location
}

// Engine reconciles office accounts against Microsoft Graph, one object
// family at a time.
type Engine struct {
	db      *db.DB
	tokens  *auth.TokenProvider
	opts    Options
	clients func(account *db.OfficeAccount) *graph.Client
}

// NewEngine creates a sync engine.
func NewEngine(database *db.DB, tokens *auth.TokenProvider, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = graph.DefaultPageSize
	}
	if opts.WindowWeeks <= 0 {
		opts.WindowWeeks = 10
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	engine := &Engine{db: database, tokens: tokens, opts: opts}
	engine.clients = func(account *db.OfficeAccount) *graph.Client {
		clientOpts := []graph.Option{graph.WithBaseURL(opts.BaseURL)}
		if opts.RequestsPerSecond > 0 {
			clientOpts = append(clientOpts, graph.WithRateLimit(opts.RequestsPerSecond, opts.Burst))
		}
		return graph.NewClient(tokens.ForAccount(account), clientOpts...)
	}
	return engine
}

// cycle carries the state of one running (account, family) cycle.
type cycle struct {
	engine   *Engine
	account  *db.OfficeAccount
	client   *graph.Client
	family   db.SyncFamily
	start    time.Time
	lastSync *time.Time
	result   *Result
}

// failf records a per-object error without aborting the cycle.
func (c *cycle) failf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("Sync %s [%s]: %s", c.family, c.account.Name, msg)
	c.result.Errors = append(c.result.Errors, msg)
}

// fatal reports whether an error must abort the whole cycle. Only
// configuration and authorization failures qualify; everything else is
// recorded per object and the cycle carries on.
func fatal(err error) bool {
	return errors.Is(err, graph.ErrConfig) || errors.Is(err, graph.ErrUnauthorized)
}

func (e *Engine) begin(account *db.OfficeAccount, family db.SyncFamily) *cycle {
	start := time.Now().UTC()
	return &cycle{
		engine:   e,
		account:  account,
		client:   e.clients(account),
		family:   family,
		start:    start,
		lastSync: account.LastSyncFor(family),
		result:   &Result{},
	}
}

// finish closes the cycle: the last-sync mark moves to the cycle start
// even when records were skipped, so a later remote fix is picked up by
// the next cycle's modified-since check.
func (c *cycle) finish(runErr error) *Result {
	c.result.Duration = time.Since(c.start)

	status := db.SyncStatusSuccess
	switch {
	case runErr != nil:
		status = db.SyncStatusError
		c.result.Message = runErr.Error()
	case len(c.result.Errors) > 0:
		status = db.SyncStatusPartial
		c.result.Message = fmt.Sprintf("completed with %d errors", len(c.result.Errors))
	default:
		c.result.Success = true
		c.result.Message = fmt.Sprintf("pulled %d, pushed %d, deleted %d, skipped %d",
			c.result.Pulled, c.result.Pushed, c.result.Deleted, c.result.Skipped)
	}
	if status == db.SyncStatusPartial {
		c.result.Success = true
	}

	if runErr == nil {
		if err := c.engine.db.AdvanceLastSync(c.account.ID, c.family, c.start); err != nil {
			log.Printf("Sync %s [%s]: failed to advance last sync: %v", c.family, c.account.Name, err)
		}
	}

	entry := &db.SyncLog{
		AccountID: c.account.ID,
		Family:    c.family,
		Status:    status,
		Message:   c.result.Message,
		Pulled:    c.result.Pulled,
		Pushed:    c.result.Pushed,
		Deleted:   c.result.Deleted,
		Skipped:   c.result.Skipped,
		Duration:  c.result.Duration,
	}
	if err := c.engine.db.CreateSyncLog(entry); err != nil {
		log.Printf("Sync %s [%s]: failed to write sync log: %v", c.family, c.account.Name, err)
	}
	if err := c.engine.db.UpdateAccountSyncStatus(c.account.ID, status, c.result.Message); err != nil {
		log.Printf("Sync %s [%s]: failed to update account status: %v", c.family, c.account.Name, err)
	}

	log.Printf("Sync %s [%s] finished in %v: %s", c.family, c.account.Name,
		c.result.Duration.Round(time.Millisecond), c.result.Message)
	return c.result
}

// window returns the delta window of the cycle for the given half-width.
func (c *cycle) window(weeks int) Window {
	if weeks <= 0 {
		weeks = c.engine.opts.WindowWeeks
	}
	return WindowAround(c.start, weeks)
}

// SyncContacts runs one contacts cycle for the account.
func (e *Engine) SyncContacts(ctx context.Context, account *db.OfficeAccount) *Result {
	log.Printf("Sync contacts [%s]: starting", account.Name)
	c := e.begin(account, db.FamilyContacts)
	return c.finish(c.runContacts(ctx))
}

// SyncCalendars runs one calendars cycle for the account, covering
// every active calendar.
func (e *Engine) SyncCalendars(ctx context.Context, account *db.OfficeAccount) *Result {
	log.Printf("Sync calendars [%s]: starting", account.Name)
	c := e.begin(account, db.FamilyCalendars)
	return c.finish(c.runCalendars(ctx, ""))
}

// SyncCalendar runs a calendars cycle restricted to a single local
// calendar. Calendar discovery and archival sweeps are skipped.
func (e *Engine) SyncCalendar(ctx context.Context, account *db.OfficeAccount, calendarID string) *Result {
	log.Printf("Sync calendar %s [%s]: starting", calendarID, account.Name)
	c := e.begin(account, db.FamilyCalendars)
	return c.finish(c.runCalendars(ctx, calendarID))
}

// SyncMail runs one mail cycle for the account. mailURL overrides the
// message collection path; when empty the account's own messages are
// fetched.
func (e *Engine) SyncMail(ctx context.Context, account *db.OfficeAccount, mailURL string) *Result {
	log.Printf("Sync mail [%s]: starting", account.Name)
	c := e.begin(account, db.FamilyMail)
	return c.finish(c.runMail(ctx, mailURL))
}

// SyncAll runs the three family cycles for the account in sequence and
// returns the per-family results keyed by family.
func (e *Engine) SyncAll(ctx context.Context, account *db.OfficeAccount) map[db.SyncFamily]*Result {
	results := map[db.SyncFamily]*Result{
		db.FamilyContacts:  e.SyncContacts(ctx, account),
		db.FamilyCalendars: e.SyncCalendars(ctx, account),
		db.FamilyMail:      e.SyncMail(ctx, account, ""),
	}
	return results
}

// remoteIDSet builds a membership set from fetched Graph records,
// ignoring records without an id and tombstones marked @removed.
func remoteIDSet(records []map[string]any) map[string]bool {
	ids := make(map[string]bool, len(records))
	for _, record := range records {
		if _, removed := record["@removed"]; removed {
			continue
		}
		if id := graph.Str(record, "id"); id != "" {
			ids[id] = true
		}
	}
	return ids
}

// isRemoved reports whether a delta record is a deletion tombstone.
func isRemoved(record map[string]any) bool {
	_, ok := record["@removed"]
	return ok
}

// codeFromName derives a user code from a display name by dropping
// every character that is not a letter or digit.
func codeFromName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

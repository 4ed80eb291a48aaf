package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/officebridge/internal/auth"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/notify"
)

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// APIAccount represents an office account in JSON format for the API.
type APIAccount struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Enabled            bool    `json:"enabled"`
	Connected          bool    `json:"connected"`
	SyncStatus         string  `json:"sync_status"`
	SyncMessage        string  `json:"sync_message"`
	LastContactSyncAt  *string `json:"last_contact_sync_at"`
	LastCalendarSyncAt *string `json:"last_calendar_sync_at"`
	LastMailSyncAt     *string `json:"last_mail_sync_at"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// APICalendar represents a synced calendar in JSON format for the API.
type APICalendar struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	IsDefault   bool    `json:"is_default"`
	IsEditable  bool    `json:"is_editable"`
	SyncMode    string  `json:"sync_mode"`
	SyncWeeks   int     `json:"sync_weeks"`
	KeepRemote  bool    `json:"keep_remote"`
	LastSyncAt  *string `json:"last_sync_at"`
}

// APISyncLog represents a sync log in JSON format for the API.
type APISyncLog struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account_id"`
	Family    string   `json:"family"`
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	Pulled    int      `json:"pulled"`
	Pushed    int      `json:"pushed"`
	Deleted   int      `json:"deleted"`
	Skipped   int      `json:"skipped"`
	Duration  *float64 `json:"duration"`
	CreatedAt string   `json:"created_at"`
}

// APIDashboardStats represents dashboard statistics.
type APIDashboardStats struct {
	TotalAccounts  int `json:"total_accounts"`
	ActiveAccounts int `json:"active_accounts"`
	SyncsToday     int `json:"syncs_today"`
	FailedAccounts int `json:"failed_accounts"`
}

// APISyncHistoryPoint represents a single data point in sync history.
type APISyncHistoryPoint struct {
	Date    string `json:"date"`
	Success int    `json:"success"`
	Partial int    `json:"partial"`
	Error   int    `json:"error"`
	Pulled  int    `json:"pulled"`
	Pushed  int    `json:"pushed"`
	Deleted int    `json:"deleted"`
}

// APISyncHistory represents sync history data for charts.
type APISyncHistory struct {
	History []APISyncHistoryPoint `json:"history"`
	Summary APISyncSummary        `json:"summary"`
}

// APISyncSummary represents aggregate sync statistics.
type APISyncSummary struct {
	TotalSyncs      int     `json:"total_syncs"`
	SuccessRate     float64 `json:"success_rate"`
	TotalPulled     int     `json:"total_pulled"`
	TotalPushed     int     `json:"total_pushed"`
	TotalDeleted    int     `json:"total_deleted"`
	AvgDurationSecs float64 `json:"avg_duration_secs"`
}

// APIAuthStatusResponse represents the auth status response.
type APIAuthStatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	User          *APIUser `json:"user,omitempty"`
}

// APIUser represents a user in JSON format.
type APIUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// accountToAPI converts a db.OfficeAccount to APIAccount. The refresh
// token never leaves the server; Connected reports its presence.
func accountToAPI(a *db.OfficeAccount) *APIAccount {
	return &APIAccount{
		ID:                 a.ID,
		Name:               a.Name,
		Enabled:            a.Enabled,
		Connected:          a.RefreshToken != "",
		SyncStatus:         string(a.LastSyncStatus),
		SyncMessage:        a.LastSyncMessage,
		LastContactSyncAt:  timePtr(a.LastContactSyncAt),
		LastCalendarSyncAt: timePtr(a.LastCalendarSyncAt),
		LastMailSyncAt:     timePtr(a.LastMailSyncAt),
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
}

// calendarToAPI converts a db.Calendar to APICalendar.
func calendarToAPI(cal *db.Calendar) *APICalendar {
	return &APICalendar{
		ID:         cal.ID,
		Name:       cal.Name,
		IsDefault:  cal.IsDefault,
		IsEditable: cal.IsEditable,
		SyncMode:   string(cal.SyncMode),
		SyncWeeks:  cal.SyncWeeks,
		KeepRemote: cal.KeepRemote,
		LastSyncAt: timePtr(cal.LastSyncAt),
	}
}

// syncLogToAPI converts a db.SyncLog to APISyncLog.
func syncLogToAPI(l *db.SyncLog) *APISyncLog {
	api := &APISyncLog{
		ID:        l.ID,
		AccountID: l.AccountID,
		Family:    string(l.Family),
		Status:    string(l.Status),
		Message:   l.Message,
		Pulled:    l.Pulled,
		Pushed:    l.Pushed,
		Deleted:   l.Deleted,
		Skipped:   l.Skipped,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
	if l.Duration > 0 {
		dur := l.Duration.Seconds()
		api.Duration = &dur
	}
	return api
}

// accountForUser loads an account by the :id route param and enforces
// ownership. On failure it writes the error response and returns nil.
func (h *Handlers) accountForUser(c *gin.Context) *db.OfficeAccount {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil
	}

	account, err := h.db.GetOfficeAccountByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil
	}
	if account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return nil
	}
	return account
}

// calendarForUser loads a calendar by the :id route param and checks
// the owning account belongs to the session user.
func (h *Handlers) calendarForUser(c *gin.Context) (*db.Calendar, *db.OfficeAccount) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, nil
	}

	calendar, err := h.db.GetCalendarByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
		return nil, nil
	}
	account, err := h.db.GetOfficeAccountByID(calendar.AccountID)
	if err != nil || account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return nil, nil
	}
	return calendar, account
}

// APIAuthStatus returns the authentication status.
func (h *Handlers) APIAuthStatus(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusOK, APIAuthStatusResponse{Authenticated: false})
		return
	}

	c.JSON(http.StatusOK, APIAuthStatusResponse{
		Authenticated: true,
		User: &APIUser{
			ID:    session.UserID,
			Email: session.Email,
			Name:  session.Name,
		},
	})
}

// APILogout logs out the user.
func (h *Handlers) APILogout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// APIDashboardStats returns dashboard statistics.
func (h *Handlers) APIDashboardStats(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	accounts, err := h.db.GetOfficeAccountsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load accounts")})
		return
	}

	stats := APIDashboardStats{TotalAccounts: len(accounts)}
	today := time.Now().Truncate(24 * time.Hour)

	for _, a := range accounts {
		if a.Enabled {
			stats.ActiveAccounts++
		}
		if a.LastSyncStatus == db.SyncStatusError {
			stats.FailedAccounts++
		}
		logs, _ := h.db.GetSyncLogs(a.ID, 100)
		for _, l := range logs {
			if l.CreatedAt.After(today) {
				stats.SyncsToday++
			}
		}
	}

	c.JSON(http.StatusOK, stats)
}

// APISyncHistory returns sync history for charts.
func (h *Handlers) APISyncHistory(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	days := 7
	if d := c.Query("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 && parsed <= 30 {
			days = parsed
		}
	}

	accounts, err := h.db.GetOfficeAccountsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load accounts")})
		return
	}

	var allLogs []*db.SyncLog
	for _, a := range accounts {
		logs, _ := h.db.GetSyncLogs(a.ID, 500)
		allLogs = append(allLogs, logs...)
	}

	now := time.Now()
	startDate := now.AddDate(0, 0, -days+1).Truncate(24 * time.Hour)

	historyMap := make(map[string]*APISyncHistoryPoint)
	for i := 0; i < days; i++ {
		dateStr := startDate.AddDate(0, 0, i).Format("Jan 02")
		historyMap[dateStr] = &APISyncHistoryPoint{Date: dateStr}
	}

	var totalSyncs, successCount int
	var totalDuration time.Duration
	summary := APISyncSummary{}

	for _, entry := range allLogs {
		if entry.CreatedAt.Truncate(24 * time.Hour).Before(startDate) {
			continue
		}
		point, ok := historyMap[entry.CreatedAt.Format("Jan 02")]
		if !ok {
			continue
		}

		totalSyncs++
		totalDuration += entry.Duration
		summary.TotalPulled += entry.Pulled
		summary.TotalPushed += entry.Pushed
		summary.TotalDeleted += entry.Deleted
		point.Pulled += entry.Pulled
		point.Pushed += entry.Pushed
		point.Deleted += entry.Deleted

		switch entry.Status {
		case db.SyncStatusSuccess:
			point.Success++
			successCount++
		case db.SyncStatusPartial:
			point.Partial++
			successCount++ // Partial counts as success for rate calculation
		case db.SyncStatusError:
			point.Error++
		}
	}

	history := make([]APISyncHistoryPoint, 0, days)
	for i := 0; i < days; i++ {
		dateStr := startDate.AddDate(0, 0, i).Format("Jan 02")
		if point, ok := historyMap[dateStr]; ok {
			history = append(history, *point)
		}
	}

	summary.TotalSyncs = totalSyncs
	if totalSyncs > 0 {
		summary.SuccessRate = float64(successCount) / float64(totalSyncs) * 100
		summary.AvgDurationSecs = totalDuration.Seconds() / float64(totalSyncs)
	}

	c.JSON(http.StatusOK, APISyncHistory{History: history, Summary: summary})
}

// APIListAccounts returns all office accounts of the user.
func (h *Handlers) APIListAccounts(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	accounts, err := h.db.GetOfficeAccountsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load accounts")})
		return
	}

	apiAccounts := make([]*APIAccount, len(accounts))
	for i, a := range accounts {
		apiAccounts[i] = accountToAPI(a)
	}
	c.JSON(http.StatusOK, apiAccounts)
}

// APIGetAccount returns a single office account.
func (h *Handlers) APIGetAccount(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}
	c.JSON(http.StatusOK, accountToAPI(account))
}

// APICreateAccountRequest represents the request body for creating an account.
type APICreateAccountRequest struct {
	Name string `json:"name"`
}

// APICreateAccount creates a new office account. The account starts
// without a refresh token; the response carries the consent URL the
// client must visit to connect it to Microsoft Graph.
func (h *Handlers) APICreateAccount(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req APICreateAccountRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
		return
	}

	account := &db.OfficeAccount{
		UserID:  session.UserID,
		Name:    req.Name,
		Enabled: true,
	}
	if err := h.db.CreateOfficeAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create account")})
		return
	}

	h.scheduler.AddJob(account.ID, time.Duration(h.cfg.Sync.Interval)*time.Second)

	c.JSON(http.StatusCreated, gin.H{
		"account":     accountToAPI(account),
		"consent_url": "/auth/consent/" + account.ID,
	})
}

// APIUpdateAccountRequest represents the request body for updating an account.
type APIUpdateAccountRequest struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

// APIUpdateAccount updates an existing office account.
func (h *Handlers) APIUpdateAccount(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	var req APIUpdateAccountRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}

	if err := h.db.UpdateOfficeAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update account")})
		return
	}

	if account.Enabled {
		h.scheduler.AddJob(account.ID, time.Duration(h.cfg.Sync.Interval)*time.Second)
	} else {
		h.scheduler.RemoveJob(account.ID)
	}

	c.JSON(http.StatusOK, accountToAPI(account))
}

// APIDeleteAccount deletes an office account and everything synced
// under it.
func (h *Handlers) APIDeleteAccount(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	h.scheduler.RemoveJob(account.ID)
	h.notifier.ClearState(account.ID)

	if err := h.db.DeleteOfficeAccount(account.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete account")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

// APIToggleAccount toggles an account's enabled status.
func (h *Handlers) APIToggleAccount(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	account.Enabled = !account.Enabled
	if err := h.db.UpdateOfficeAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update account")})
		return
	}

	if account.Enabled {
		h.scheduler.AddJob(account.ID, time.Duration(h.cfg.Sync.Interval)*time.Second)
	} else {
		h.scheduler.RemoveJob(account.ID)
	}

	c.JSON(http.StatusOK, accountToAPI(account))
}

// APITriggerSync triggers a full sync cycle for an account.
func (h *Handlers) APITriggerSync(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	if h.tracker.IsAccountSyncing(account.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}

	h.scheduler.TriggerSync(account.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Sync triggered"})
}

// APITriggerFamilySync triggers a single family cycle for an account.
func (h *Handlers) APITriggerFamilySync(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	family := db.SyncFamily(c.Param("family"))
	if !family.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown sync family"})
		return
	}

	h.scheduler.TriggerFamilySync(account.ID, family)
	c.JSON(http.StatusOK, gin.H{"message": string(family) + " sync triggered"})
}

// APIGetAccountLogs returns sync logs for an account.
func (h *Handlers) APIGetAccountLogs(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	page := 1
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	limit := 20
	offset := (page - 1) * limit

	logs, err := h.db.GetSyncLogs(account.ID, 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load logs")})
		return
	}

	totalPages := (len(logs) + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	start := offset
	end := offset + limit
	if start > len(logs) {
		start = len(logs)
	}
	if end > len(logs) {
		end = len(logs)
	}
	pageLogs := logs[start:end]

	apiLogs := make([]*APISyncLog, len(pageLogs))
	for i, l := range pageLogs {
		apiLogs[i] = syncLogToAPI(l)
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":        apiLogs,
		"page":        page,
		"total_pages": totalPages,
	})
}

// APIActivity returns in-flight and recently completed syncs.
func (h *Handlers) APIActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.GetAll())
}

// APIListCalendars returns the synced calendars of an account.
func (h *Handlers) APIListCalendars(c *gin.Context) {
	account := h.accountForUser(c)
	if account == nil {
		return
	}

	calendars, err := h.db.ListCalendars(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendars")})
		return
	}

	apiCalendars := make([]*APICalendar, len(calendars))
	for i, cal := range calendars {
		apiCalendars[i] = calendarToAPI(cal)
	}
	c.JSON(http.StatusOK, apiCalendars)
}

// APIUpdateCalendarRequest represents the request body for calendar settings.
type APIUpdateCalendarRequest struct {
	SyncMode   string `json:"sync_mode"`
	SyncWeeks  int    `json:"sync_weeks"`
	KeepRemote *bool  `json:"keep_remote"`
}

// APIUpdateCalendar changes the sync settings of a calendar.
func (h *Handlers) APIUpdateCalendar(c *gin.Context) {
	calendar, _ := h.calendarForUser(c)
	if calendar == nil {
		return
	}

	var req APIUpdateCalendarRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	mode := calendar.SyncMode
	if req.SyncMode != "" {
		mode = db.CalendarSyncMode(req.SyncMode)
		if !mode.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown sync mode"})
			return
		}
	}
	weeks := calendar.SyncWeeks
	if req.SyncWeeks > 0 {
		weeks = req.SyncWeeks
	}
	keepRemote := calendar.KeepRemote
	if req.KeepRemote != nil {
		keepRemote = *req.KeepRemote
	}

	if err := h.db.UpdateCalendarSettings(calendar.ID, mode, weeks, keepRemote); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update calendar")})
		return
	}

	calendar.SyncMode = mode
	calendar.SyncWeeks = weeks
	calendar.KeepRemote = keepRemote
	c.JSON(http.StatusOK, calendarToAPI(calendar))
}

// APISyncCalendar runs a sync cycle restricted to one calendar and
// returns the result.
func (h *Handlers) APISyncCalendar(c *gin.Context) {
	calendar, account := h.calendarForUser(c)
	if calendar == nil {
		return
	}

	if h.tracker.IsAccountSyncing(account.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}

	result := h.engine.SyncCalendar(c.Request.Context(), account, calendar.ID)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// APIExportCalendar streams a calendar as an iCalendar document.
func (h *Handlers) APIExportCalendar(c *gin.Context) {
	calendar, _ := h.calendarForUser(c)
	if calendar == nil {
		return
	}

	ics, err := h.exporter.Export(calendar)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to export calendar")})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+calendar.Name+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

// APIDeleteContact deletes a local contact, propagating to Graph when
// it carries a remote id.
func (h *Handlers) APIDeleteContact(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	partner, err := h.db.GetPartnerByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	account, err := h.db.GetOfficeAccountByID(partner.AccountID)
	if err != nil || account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := h.engine.DeleteContact(c.Request.Context(), account, partner.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to delete contact")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contact deleted"})
}

// APIDeleteEvent deletes a local event and its remote copy.
func (h *Handlers) APIDeleteEvent(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	event, err := h.db.GetEventByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	calendar, err := h.db.GetCalendarByID(event.CalendarID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
		return
	}
	account, err := h.db.GetOfficeAccountByID(calendar.AccountID)
	if err != nil || account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := h.engine.DeleteEvent(c.Request.Context(), account, event.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to delete event")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Event deleted"})
}

// APIDeleteMessage deletes a local message and its remote copy.
func (h *Handlers) APIDeleteMessage(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	message, err := h.db.GetMessageByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	account, err := h.db.GetOfficeAccountByID(message.AccountID)
	if err != nil || account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := h.engine.DeleteMessage(c.Request.Context(), account, message.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to delete message")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// APITestWebhookRequest represents the request body for webhook tests.
type APITestWebhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// APITestWebhook sends a test alert to a webhook URL.
func (h *Handlers) APITestWebhook(c *gin.Context) {
	var req APITestWebhookRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.WebhookURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook_url is required"})
		return
	}
	if err := notify.ValidateWebhookURL(req.WebhookURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.notifier.SendTestWebhook(c.Request.Context(), req.WebhookURL); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Webhook test failed")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Webhook delivered"})
}

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/macjediwizard/officebridge/internal/activity"
	"github.com/macjediwizard/officebridge/internal/auth"
	"github.com/macjediwizard/officebridge/internal/config"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/ical"
	"github.com/macjediwizard/officebridge/internal/notify"
	"github.com/macjediwizard/officebridge/internal/scheduler"
	syncengine "github.com/macjediwizard/officebridge/internal/sync"
)

// testHandlers holds test dependencies.
type testHandlers struct {
	db       *db.DB
	handlers *Handlers
	cleanup  func()
}

// setupTestHandlers creates handlers with a test database.
func setupTestHandlers(t *testing.T) *testHandlers {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "officebridge-api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	cfg := &config.Config{}
	cfg.Sync.Interval = 900

	tracker := activity.NewTracker()
	notifier := notify.New(config.AlertConfig{}, time.Hour)
	tokens := auth.NewTokenProvider(database, &oauth2.Config{})
	engine := syncengine.NewEngine(database, tokens, syncengine.Options{})

	handlers := &Handlers{
		cfg:       cfg,
		db:        database,
		scheduler: scheduler.New(database, engine, tracker, notifier, time.Minute),
		tracker:   tracker,
		notifier:  notifier,
		exporter:  ical.NewExporter(database),
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tempDir)
	}

	return &testHandlers{
		db:       database,
		handlers: handlers,
		cleanup:  cleanup,
	}
}

// setAuthContext sets the authenticated user context for testing.
func setAuthContext(c *gin.Context, userID, email string) {
	session := &auth.SessionData{
		UserID:    userID,
		Email:     email,
		Name:      "Test User",
		CSRFToken: "test-csrf-token",
	}
	c.Set(auth.ContextKeySession, session)
}

// createTestUserAndAccount creates a user and office account for testing.
func createTestUserAndAccount(t *testing.T, database *db.DB, email, accountName string) (string, *db.OfficeAccount) {
	t.Helper()

	user, err := database.GetOrCreateUser(email, "Test User")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	account := &db.OfficeAccount{
		UserID:  user.ID,
		Name:    accountName,
		Enabled: true,
	}
	if err := database.CreateOfficeAccount(account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	return user.ID, account
}

func TestAPIListAccounts(t *testing.T) {
	t.Run("returns accounts of the user", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		userID, _ := createTestUserAndAccount(t, th.db, "test@example.com", "Work")
		// Another user's account must not appear
		createTestUserAndAccount(t, th.db, "other@example.com", "Other")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
		setAuthContext(c, userID, "test@example.com")

		th.handlers.APIListAccounts(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var accounts []*APIAccount
		if err := json.Unmarshal(w.Body.Bytes(), &accounts); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(accounts) != 1 {
			t.Fatalf("expected 1 account, got %d", len(accounts))
		}
		if accounts[0].Name != "Work" {
			t.Errorf("expected account Work, got %q", accounts[0].Name)
		}
		if accounts[0].Connected {
			t.Error("account without refresh token reported connected")
		}
	})

	t.Run("returns unauthorized when not authenticated", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)

		th.handlers.APIListAccounts(c)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", w.Code)
		}
	})
}

func TestAPICreateAccount(t *testing.T) {
	t.Run("creates account and returns consent URL", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		user, err := th.db.GetOrCreateUser("test@example.com", "Test User")
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		body := strings.NewReader(`{"name": "Work Account"}`)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/accounts", body)
		c.Request.Header.Set("Content-Type", "application/json")
		setAuthContext(c, user.ID, "test@example.com")

		th.handlers.APICreateAccount(c)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}

		var response map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		consentURL, _ := response["consent_url"].(string)
		if !strings.HasPrefix(consentURL, "/auth/consent/") {
			t.Errorf("unexpected consent URL: %q", consentURL)
		}

		accounts, _ := th.db.GetOfficeAccountsByUserID(user.ID)
		if len(accounts) != 1 {
			t.Fatalf("expected 1 account in db, got %d", len(accounts))
		}
		if !accounts[0].Enabled {
			t.Error("new account should start enabled")
		}
	})

	t.Run("rejects missing name", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		user, _ := th.db.GetOrCreateUser("test@example.com", "Test User")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(`{}`))
		setAuthContext(c, user.ID, "test@example.com")

		th.handlers.APICreateAccount(c)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})
}

func TestAPIGetAccount(t *testing.T) {
	t.Run("denies access to another user's account", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		_, account := createTestUserAndAccount(t, th.db, "owner@example.com", "Owned")
		intruderID, _ := createTestUserAndAccount(t, th.db, "intruder@example.com", "Mine")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/accounts/"+account.ID, nil)
		c.Params = gin.Params{{Key: "id", Value: account.ID}}
		setAuthContext(c, intruderID, "intruder@example.com")

		th.handlers.APIGetAccount(c)

		if w.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", w.Code)
		}
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		userID, _ := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/accounts/nonexistent", nil)
		c.Params = gin.Params{{Key: "id", Value: "nonexistent"}}
		setAuthContext(c, userID, "test@example.com")

		th.handlers.APIGetAccount(c)

		if w.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPIToggleAccount(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/accounts/"+account.ID+"/toggle", nil)
	c.Params = gin.Params{{Key: "id", Value: account.ID}}
	setAuthContext(c, userID, "test@example.com")

	th.handlers.APIToggleAccount(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	updated, err := th.db.GetOfficeAccountByID(account.ID)
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if updated.Enabled {
		t.Error("expected account disabled after toggle")
	}
}

func TestAPIDeleteAccount(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/accounts/"+account.ID, nil)
	c.Params = gin.Params{{Key: "id", Value: account.ID}}
	setAuthContext(c, userID, "test@example.com")

	th.handlers.APIDeleteAccount(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := th.db.GetOfficeAccountByID(account.ID); err == nil {
		t.Error("expected account gone after delete")
	}
}

func TestAPITriggerFamilySync(t *testing.T) {
	t.Run("rejects unknown family", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/accounts/"+account.ID+"/sync/bogus", nil)
		c.Params = gin.Params{
			{Key: "id", Value: account.ID},
			{Key: "family", Value: "bogus"},
		}
		setAuthContext(c, userID, "test@example.com")

		th.handlers.APITriggerFamilySync(c)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})
}

func TestAPIGetAccountLogs(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

	for i := 0; i < 25; i++ {
		entry := &db.SyncLog{
			AccountID: account.ID,
			Family:    db.FamilyContacts,
			Status:    db.SyncStatusSuccess,
			Message:   "ok",
			Pulled:    i,
		}
		if err := th.db.CreateSyncLog(entry); err != nil {
			t.Fatalf("failed to create sync log: %v", err)
		}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/accounts/"+account.ID+"/logs?page=2", nil)
	c.Params = gin.Params{{Key: "id", Value: account.ID}}
	setAuthContext(c, userID, "test@example.com")

	th.handlers.APIGetAccountLogs(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		Logs       []*APISyncLog `json:"logs"`
		Page       int           `json:"page"`
		TotalPages int           `json:"total_pages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Page != 2 {
		t.Errorf("expected page 2, got %d", response.Page)
	}
	if response.TotalPages != 2 {
		t.Errorf("expected 2 total pages, got %d", response.TotalPages)
	}
	if len(response.Logs) != 5 {
		t.Errorf("expected 5 logs on page 2, got %d", len(response.Logs))
	}
}

func TestAPIUpdateCalendar(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

	calendar := &db.Calendar{
		Office365ID: "remote-cal-1",
		AccountID:   account.ID,
		UserID:      userID,
		Name:        "Team Calendar",
		IsEditable:  true,
	}
	if err := th.db.UpsertCalendar(calendar); err != nil {
		t.Fatalf("failed to create calendar: %v", err)
	}

	t.Run("updates sync settings", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		body := strings.NewReader(`{"sync_mode": "generic", "sync_weeks": 4}`)
		c.Request = httptest.NewRequest(http.MethodPut, "/api/calendars/"+calendar.ID, body)
		c.Params = gin.Params{{Key: "id", Value: calendar.ID}}
		setAuthContext(c, userID, "test@example.com")

		th.handlers.APIUpdateCalendar(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		updated, err := th.db.GetCalendarByID(calendar.ID)
		if err != nil {
			t.Fatalf("failed to reload calendar: %v", err)
		}
		if updated.SyncMode != db.SyncModeGeneric {
			t.Errorf("expected generic mode, got %s", updated.SyncMode)
		}
		if updated.SyncWeeks != 4 {
			t.Errorf("expected 4 weeks, got %d", updated.SyncWeeks)
		}
	})

	t.Run("rejects unknown sync mode", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		body := strings.NewReader(`{"sync_mode": "bogus"}`)
		c.Request = httptest.NewRequest(http.MethodPut, "/api/calendars/"+calendar.ID, body)
		c.Params = gin.Params{{Key: "id", Value: calendar.ID}}
		setAuthContext(c, userID, "test@example.com")

		th.handlers.APIUpdateCalendar(c)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})
}

func TestAPIDashboardStats(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	userID, account := createTestUserAndAccount(t, th.db, "test@example.com", "Work")

	entry := &db.SyncLog{
		AccountID: account.ID,
		Family:    db.FamilyCalendars,
		Status:    db.SyncStatusSuccess,
		Message:   "ok",
	}
	if err := th.db.CreateSyncLog(entry); err != nil {
		t.Fatalf("failed to create sync log: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	setAuthContext(c, userID, "test@example.com")

	th.handlers.APIDashboardStats(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats APIDashboardStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if stats.TotalAccounts != 1 || stats.ActiveAccounts != 1 {
		t.Errorf("unexpected account counts: %+v", stats)
	}
	if stats.SyncsToday != 1 {
		t.Errorf("expected 1 sync today, got %d", stats.SyncsToday)
	}
}

func TestAPIAuthStatus(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)

		th.handlers.APIAuthStatus(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var response APIAuthStatusResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		if response.Authenticated {
			t.Error("expected unauthenticated status")
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
		setAuthContext(c, "user-1", "test@example.com")

		th.handlers.APIAuthStatus(c)

		var response APIAuthStatusResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		if !response.Authenticated || response.User == nil {
			t.Fatal("expected authenticated status with user")
		}
		if response.User.Email != "test@example.com" {
			t.Errorf("unexpected user email %q", response.User.Email)
		}
	})
}

func TestAPITestWebhookValidation(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing url", `{}`, http.StatusBadRequest},
		{"http url", `{"webhook_url": "http://example.com/hook"}`, http.StatusBadRequest},
		{"private address", `{"webhook_url": "https://192.168.1.1/hook"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/alerts/test", strings.NewReader(tt.body))
			setAuthContext(c, "user-1", "test@example.com")

			th.handlers.APITestWebhook(c)

			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

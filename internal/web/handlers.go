package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/officebridge/internal/activity"
	"github.com/macjediwizard/officebridge/internal/auth"
	"github.com/macjediwizard/officebridge/internal/config"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/ical"
	"github.com/macjediwizard/officebridge/internal/notify"
	"github.com/macjediwizard/officebridge/internal/scheduler"
	syncengine "github.com/macjediwizard/officebridge/internal/sync"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg       *config.Config
	db        *db.DB
	azure     *auth.AzureProvider
	session   *auth.SessionManager
	engine    *syncengine.Engine
	scheduler *scheduler.Scheduler
	tracker   *activity.Tracker
	notifier  *notify.Notifier
	exporter  *ical.Exporter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	azure *auth.AzureProvider,
	session *auth.SessionManager,
	engine *syncengine.Engine,
	sched *scheduler.Scheduler,
	tracker *activity.Tracker,
	notifier *notify.Notifier,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		db:        database,
		azure:     azure,
		session:   session,
		engine:    engine,
		scheduler: sched,
		tracker:   tracker,
		notifier:  notifier,
		exporter:  ical.NewExporter(database),
	}
}

// HealthCheck reports service and database health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Login initiates the Azure AD sign-in flow. A random state travels in
// the session cookie and doubles as the CSRF check in the callback.
func (h *Handlers) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save state"})
		return
	}

	c.Redirect(http.StatusFound, h.azure.ConsentURL(state))
}

// Consent starts the Graph consent flow for one office account. The
// account id is the state parameter, so the callback can bind the
// returned refresh token to the right account.
func (h *Handlers) Consent(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	accountID := c.Param("id")

	account, err := h.db.GetOfficeAccountByID(accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	if account.UserID != session.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, accountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save state"})
		return
	}

	c.Redirect(http.StatusFound, h.azure.ConsentURL(accountID))
}

// Callback handles the Azure AD redirect for both the sign-in and the
// account consent flows. A state that names an existing office account
// is a consent return; anything else is a sign-in.
func (h *Handlers) Callback(c *gin.Context) {
	state := c.Query("state")
	savedState, err := h.session.GetOAuthState(c.Writer, c.Request)
	if err != nil || state == "" || state != savedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state parameter"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed: " + errParam})
		return
	}

	token, err := h.azure.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to exchange code"})
		return
	}

	claims, err := h.azure.VerifyIDToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify token"})
		return
	}

	if account, err := h.db.GetOfficeAccountByID(state); err == nil {
		h.finishConsent(c, account, token.RefreshToken)
		return
	}

	h.finishLogin(c, claims)
}

// finishConsent stores the refresh token granted for an office account.
func (h *Handlers) finishConsent(c *gin.Context, account *db.OfficeAccount, refreshToken string) {
	if refreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Consent granted no refresh token"})
		return
	}
	if err := h.db.UpdateRefreshToken(account.ID, refreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store refresh token"})
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// finishLogin creates the local user and session from verified claims.
func (h *Handlers) finishLogin(c *gin.Context, claims *auth.Claims) {
	user, err := h.db.GetOrCreateUser(claims.EmailAddress(), claims.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	sessionData := &auth.SessionData{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}
	if err := h.session.Set(c.Writer, c.Request, sessionData); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	redirectURL := "/"
	if cookie, err := c.Cookie("redirect_after_login"); err == nil && cookie != "" {
		if IsSafeRedirectURL(cookie) {
			redirectURL = cookie
		}
		c.SetCookie("redirect_after_login", "", -1, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// Logout clears the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.Redirect(http.StatusFound, "/auth/login")
}

package web

import (
	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/officebridge/internal/auth"
)

// SetupRoutes registers all HTTP routes on the gin engine.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager) {
	// Health endpoints, no auth and no rate limit so orchestrators can
	// probe freely.
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)

	// OAuth flow. Tight rate limit, login endpoints are a brute-force
	// target.
	authGroup := r.Group("/auth")
	authGroup.Use(RateLimiter(5, 10))
	{
		authGroup.GET("/login", h.Login)
		authGroup.GET("/callback", h.Callback)
		authGroup.GET("/consent/:id", auth.RequireAuth(sm), h.Consent)
		authGroup.POST("/logout", h.Logout)
	}

	// Public API endpoints, session optional.
	api := r.Group("/api")
	api.Use(RateLimiter(30, 60), auth.OptionalAuth(sm))
	{
		api.GET("/auth/status", h.APIAuthStatus)
		api.POST("/auth/logout", h.APILogout)
	}

	// Protected API endpoints. Origin validation plus content-type
	// enforcement covers CSRF for the state-changing routes.
	protected := r.Group("/api")
	protected.Use(
		RateLimiter(30, 60),
		auth.RequireAPIAuth(sm),
		ValidateOrigin(),
		RequireJSONContentType(),
	)
	{
		protected.GET("/dashboard/stats", h.APIDashboardStats)
		protected.GET("/dashboard/history", h.APISyncHistory)
		protected.GET("/activity", h.APIActivity)

		protected.GET("/accounts", h.APIListAccounts)
		protected.POST("/accounts", h.APICreateAccount)
		protected.GET("/accounts/:id", h.APIGetAccount)
		protected.PUT("/accounts/:id", h.APIUpdateAccount)
		protected.DELETE("/accounts/:id", h.APIDeleteAccount)
		protected.POST("/accounts/:id/toggle", h.APIToggleAccount)
		protected.POST("/accounts/:id/sync", h.APITriggerSync)
		protected.POST("/accounts/:id/sync/:family", h.APITriggerFamilySync)
		protected.GET("/accounts/:id/logs", h.APIGetAccountLogs)
		protected.GET("/accounts/:id/calendars", h.APIListCalendars)

		protected.PUT("/calendars/:id", h.APIUpdateCalendar)
		protected.POST("/calendars/:id/sync", h.APISyncCalendar)
		protected.GET("/calendars/:id/export", h.APIExportCalendar)

		protected.DELETE("/contacts/:id", h.APIDeleteContact)
		protected.DELETE("/events/:id", h.APIDeleteEvent)
		protected.DELETE("/messages/:id", h.APIDeleteMessage)

		protected.POST("/alerts/test", h.APITestWebhook)
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/officebridge/internal/config"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeFailure  AlertType = "failure"
	AlertTypeRecovery AlertType = "recovery"
)

// Alert represents a notification about a sync run.
type Alert struct {
	Type        AlertType
	AccountID   string
	AccountName string
	Family      string
	Message     string
	Details     string
	Timestamp   time.Time
}

// Notifier sends sync failure and recovery alerts via webhook and email.
type Notifier struct {
	cfg        config.AlertConfig
	cooldown   time.Duration
	httpClient *http.Client

	mu             sync.RWMutex
	lastAlertTimes map[string]time.Time
	failing        map[string]bool
}

// New creates a new Notifier. A zero cooldown disables alert suppression.
func New(cfg config.AlertConfig, cooldown time.Duration) *Notifier {
	return &Notifier{
		cfg:      cfg,
		cooldown: cooldown,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		lastAlertTimes: make(map[string]time.Time),
		failing:        make(map[string]bool),
	}
}

// IsEnabled returns true if any notification channel is configured.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookEnabled() || n.cfg.EmailEnabled()
}

func alertKey(accountID, family string) string {
	return accountID + "/" + family
}

// SendFailureAlert reports a failed sync run for one account and family.
// Returns true if the alert was sent, false if suppressed by cooldown.
func (n *Notifier) SendFailureAlert(ctx context.Context, accountID, accountName, family, detail string) bool {
	if !n.IsEnabled() {
		return false
	}

	key := alertKey(accountID, family)

	n.mu.Lock()
	if n.failing[key] {
		if last, ok := n.lastAlertTimes[key]; ok && time.Since(last) < n.cooldown {
			n.mu.Unlock()
			return false
		}
	}
	n.failing[key] = true
	n.lastAlertTimes[key] = time.Now()
	n.mu.Unlock()

	alert := Alert{
		Type:        AlertTypeFailure,
		AccountID:   accountID,
		AccountName: accountName,
		Family:      family,
		Message:     fmt.Sprintf("Sync failed for account '%s' (%s)", accountName, family),
		Details:     detail,
		Timestamp:   time.Now(),
	}

	// Delivery happens in the background so sync runs are never blocked.
	go n.send(ctx, alert)
	return true
}

// SendRecoveryAlert reports that an account and family recovered after a failure.
// Returns false if the pair was not in a failing state.
func (n *Notifier) SendRecoveryAlert(ctx context.Context, accountID, accountName, family string) bool {
	key := alertKey(accountID, family)

	n.mu.Lock()
	wasFailing := n.failing[key]
	if wasFailing {
		delete(n.failing, key)
		delete(n.lastAlertTimes, key)
	}
	n.mu.Unlock()

	if !wasFailing || !n.IsEnabled() {
		return false
	}

	alert := Alert{
		Type:        AlertTypeRecovery,
		AccountID:   accountID,
		AccountName: accountName,
		Family:      family,
		Message:     fmt.Sprintf("Sync recovered for account '%s' (%s)", accountName, family),
		Details:     "Account is syncing normally again",
		Timestamp:   time.Now(),
	}

	go n.send(ctx, alert)
	return true
}

// ClearState forgets alert history for an account (used on account deletion).
func (n *Notifier) ClearState(accountID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key := range n.failing {
		if strings.HasPrefix(key, accountID+"/") {
			delete(n.failing, key)
			delete(n.lastAlertTimes, key)
		}
	}
}

// FailingKeys returns the account/family pairs currently in a failing state.
func (n *Notifier) FailingKeys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.failing))
	for key := range n.failing {
		keys = append(keys, key)
	}
	return keys
}

func (n *Notifier) send(ctx context.Context, alert Alert) {
	if n.cfg.WebhookEnabled() {
		if err := n.sendWebhook(ctx, alert); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}

	if n.cfg.EmailEnabled() {
		if err := n.sendEmail(alert); err != nil {
			log.Printf("[Notify] Email error: %v", err)
		}
	}
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType   string `json:"alert_type"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	Family      string `json:"family"`
	Message     string `json:"message"`
	Details     string `json:"details"`
	Timestamp   string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	return n.sendWebhookToURL(ctx, alert, n.cfg.WebhookURL)
}

func (n *Notifier) sendWebhookToURL(ctx context.Context, alert Alert, webhookURL string) error {
	if err := validateWebhookURL(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}

	emoji := ":x:"
	if alert.Type == AlertTypeRecovery {
		emoji = ":white_check_mark:"
	}

	payload := WebhookPayload{
		AlertType:   string(alert.Type),
		AccountID:   alert.AccountID,
		AccountName: alert.AccountName,
		Family:      alert.Family,
		Message:     alert.Message,
		Details:     alert.Details,
		Timestamp:   alert.Timestamp.Format(time.RFC3339),
		Text:        fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Message)
	return nil
}

// SendTestWebhook sends a test message to a webhook URL.
func (n *Notifier) SendTestWebhook(ctx context.Context, webhookURL string) error {
	alert := Alert{
		Type:        "test",
		AccountID:   "test",
		AccountName: "Test",
		Family:      "test",
		Message:     "Test webhook from OfficeBridge",
		Details:     "This is a test message to verify your webhook configuration",
		Timestamp:   time.Now(),
	}
	return n.sendWebhookToURL(ctx, alert, webhookURL)
}

func (n *Notifier) sendEmail(alert Alert) error {
	// Sanitize user-controlled inputs to prevent email header injection.
	sanitizedName := sanitizeForEmail(alert.AccountName)
	sanitizedMessage := sanitizeForEmail(alert.Message)
	sanitizedDetails := sanitizeForEmail(alert.Details)

	recipients := make([]string, 0, len(n.cfg.SMTPTo))
	for _, to := range n.cfg.SMTPTo {
		to = strings.TrimSpace(to)
		if isValidEmail(to) {
			recipients = append(recipients, to)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients configured")
	}

	subject := fmt.Sprintf("[OfficeBridge] %s", sanitizedMessage)

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Alert Type: %s\n", alert.Type))
	body.WriteString(fmt.Sprintf("Account: %s\n", sanitizedName))
	body.WriteString(fmt.Sprintf("Account ID: %s\n", alert.AccountID))
	body.WriteString(fmt.Sprintf("Family: %s\n", alert.Family))
	body.WriteString(fmt.Sprintf("Time: %s\n\n", alert.Timestamp.Format(time.RFC1123)))
	body.WriteString(fmt.Sprintf("Message: %s\n", sanitizedMessage))
	body.WriteString(fmt.Sprintf("Details: %s\n", sanitizedDetails))

	to := strings.Join(recipients, ", ")
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.SMTPFrom, to, subject, body.String())

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	if err := smtp.SendMail(addr, nil, n.cfg.SMTPFrom, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	log.Printf("[Notify] Email sent to %d recipients: %s", len(recipients), sanitizedMessage)
	return nil
}

// validateWebhookURL validates that a webhook URL is safe to use.
func validateWebhookURL(webhookURL string) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL must use HTTPS")
	}

	// Block localhost and private ranges to prevent SSRF.
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("webhook URL cannot point to localhost")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("webhook URL cannot point to internal hosts")
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return fmt.Errorf("webhook URL cannot point to private IP addresses")
	}
	for i := 16; i <= 31; i++ {
		if strings.HasPrefix(host, fmt.Sprintf("172.%d.", i)) {
			return fmt.Errorf("webhook URL cannot point to private IP addresses")
		}
	}

	return nil
}

// ValidateWebhookURL validates that a webhook URL is safe to use (exported for API use).
func ValidateWebhookURL(webhookURL string) error {
	return validateWebhookURL(webhookURL)
}

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// sanitizeForEmail removes characters that could be used for email header injection.
func sanitizeForEmail(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

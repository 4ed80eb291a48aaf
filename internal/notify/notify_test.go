package notify

import (
	"context"
	"testing"
	"time"

	"github.com/macjediwizard/officebridge/internal/config"
)

// webhookCfg returns an alert config with only the webhook channel
// configured. The host does not resolve so background delivery
// attempts fail fast without reaching the network.
func webhookCfg() config.AlertConfig {
	return config.AlertConfig{WebhookURL: "https://hooks.example.invalid/services/T/B/x"}
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AlertConfig
		want bool
	}{
		{"nothing configured", config.AlertConfig{}, false},
		{"webhook only", webhookCfg(), true},
		{
			"email only",
			config.AlertConfig{
				SMTPHost: "smtp.example.com",
				SMTPPort: 587,
				SMTPFrom: "bridge@example.com",
				SMTPTo:   []string{"ops@example.com"},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(tt.cfg, time.Hour)
			if got := n.IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSendFailureAlertCooldown(t *testing.T) {
	n := New(webhookCfg(), time.Hour)
	ctx := context.Background()

	if !n.SendFailureAlert(ctx, "acct-1", "Work", "contacts", "boom") {
		t.Fatal("first failure alert should be sent")
	}
	// Same pair is still failing and inside the cooldown window.
	if n.SendFailureAlert(ctx, "acct-1", "Work", "contacts", "boom again") {
		t.Error("repeat failure alert should be suppressed")
	}
	// A different family of the same account alerts independently.
	if !n.SendFailureAlert(ctx, "acct-1", "Work", "calendars", "boom") {
		t.Error("different family should not be suppressed")
	}
}

func TestSendFailureAlertDisabled(t *testing.T) {
	n := New(config.AlertConfig{}, time.Hour)
	if n.SendFailureAlert(context.Background(), "acct-1", "Work", "contacts", "boom") {
		t.Error("alert should not be sent when no channel is configured")
	}
	if len(n.FailingKeys()) != 0 {
		t.Error("disabled notifier should not track failing state")
	}
}

func TestSendRecoveryAlert(t *testing.T) {
	n := New(webhookCfg(), time.Hour)
	ctx := context.Background()

	// Recovery without a preceding failure is a no-op.
	if n.SendRecoveryAlert(ctx, "acct-1", "Work", "contacts") {
		t.Error("recovery without failure should not alert")
	}

	n.SendFailureAlert(ctx, "acct-1", "Work", "contacts", "boom")
	if !n.SendRecoveryAlert(ctx, "acct-1", "Work", "contacts") {
		t.Error("recovery after failure should alert")
	}
	// State was cleared, a second recovery is again a no-op.
	if n.SendRecoveryAlert(ctx, "acct-1", "Work", "contacts") {
		t.Error("second recovery should not alert")
	}
}

func TestClearState(t *testing.T) {
	n := New(webhookCfg(), time.Hour)
	ctx := context.Background()

	n.SendFailureAlert(ctx, "acct-1", "Work", "contacts", "boom")
	n.SendFailureAlert(ctx, "acct-1", "Work", "mail", "boom")
	n.SendFailureAlert(ctx, "acct-2", "Home", "contacts", "boom")

	n.ClearState("acct-1")

	keys := n.FailingKeys()
	if len(keys) != 1 {
		t.Fatalf("expected 1 failing key after clear, got %d: %v", len(keys), keys)
	}
	if keys[0] != "acct-2/contacts" {
		t.Errorf("unexpected surviving key %q", keys[0])
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://hooks.slack.com/services/T/B/x", false},
		{"plain http", "http://hooks.slack.com/services/T/B/x", true},
		{"localhost", "https://localhost/hook", true},
		{"loopback", "https://127.0.0.1/hook", true},
		{"ipv6 loopback", "https://[::1]/hook", true},
		{"ten range", "https://10.0.0.5/hook", true},
		{"one ninety two range", "https://192.168.1.10/hook", true},
		{"one seventy two range low", "https://172.16.0.1/hook", true},
		{"one seventy two range high", "https://172.31.255.1/hook", true},
		{"one seventy two public", "https://172.32.0.1/hook", false},
		{"mdns suffix", "https://printer.local/hook", true},
		{"internal suffix", "https://vault.internal/hook", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWebhookURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeForEmail(t *testing.T) {
	got := sanitizeForEmail("subject\r\nBcc: evil@example.com")
	if got != "subject Bcc: evil@example.com" {
		t.Errorf("unexpected sanitized value %q", got)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := sanitizeForEmail(string(long)); len(got) != 200 {
		t.Errorf("expected 200-char cap, got %d", len(got))
	}
}

func TestIsValidEmail(t *testing.T) {
	if !isValidEmail("ops@example.com") {
		t.Error("expected valid address to pass")
	}
	if isValidEmail("not-an-email") {
		t.Error("expected invalid address to fail")
	}
	if isValidEmail("evil@example.com\r\nBcc: other@example.com") {
		t.Error("expected injected address to fail")
	}
}

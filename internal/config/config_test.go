package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Scheduler.Interval)
	}
	if len(cfg.Feed.Coins) != 5 || cfg.Feed.Coins[0] != "bitcoin" {
		t.Fatalf("unexpected default coins %v", cfg.Feed.Coins)
	}
	if cfg.Relay.Port != 5000 || cfg.Relay.RateLimit.Requests != 10 || cfg.Relay.RateLimit.Window != time.Minute {
		t.Fatalf("unexpected relay defaults %+v", cfg.Relay)
	}
	if cfg.Evaluator.TriggerSuppression != time.Minute || cfg.Evaluator.NearTargetCooldown != 30*time.Second {
		t.Fatalf("unexpected evaluator defaults %+v", cfg.Evaluator)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 3 || origins[0] != "http://localhost:5176" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "6001")
	t.Setenv("EMAIL_SERVICE", "custom")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_SECURE", "true")
	t.Setenv("FRONTEND_URL", "https://alerts.example.com")
	t.Setenv("PRICEALERTS_SESSION_USER_ID", "user-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.Port != 6001 {
		t.Fatalf("PORT not honoured: %d", cfg.Relay.Port)
	}
	if cfg.Mail.Service != MailServiceCustom || cfg.Mail.SMTP.Host != "smtp.example.com" || !cfg.Mail.SMTP.Secure {
		t.Fatalf("mail env not honoured: %+v", cfg.Mail)
	}
	if cfg.Mail.SMTP.Port != 587 {
		t.Fatalf("SMTP port should default to 587, got %d", cfg.Mail.SMTP.Port)
	}
	if cfg.Relay.FrontendURL != "https://alerts.example.com" {
		t.Fatalf("FRONTEND_URL not honoured: %s", cfg.Relay.FrontendURL)
	}
	if cfg.Session.UserID != "user-1" {
		t.Fatalf("prefixed env not honoured: %q", cfg.Session.UserID)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("scheduler:\n  interval: 45s\nfeed:\n  coins: bitcoin,dogecoin\ndatabase:\n  driver: oracle\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unsupported driver should fail validation")
	}

	content = []byte("scheduler:\n  interval: 45s\nfeed:\n  coins: bitcoin,dogecoin\ndatabase:\n  driver: memory\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != 45*time.Second {
		t.Fatalf("interval not read from file: %s", cfg.Scheduler.Interval)
	}
	if len(cfg.Feed.Coins) != 2 || cfg.Feed.Coins[1] != "dogecoin" {
		t.Fatalf("coins not split: %v", cfg.Feed.Coins)
	}
}

func TestValidateEvaluatorBands(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Evaluator.EmailThreshold = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("email threshold below close threshold should be rejected")
	}
	cfg.Evaluator.EmailThreshold = 0.9
	cfg.Alerting.Push.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("push without telegram credentials should be rejected")
	}
}

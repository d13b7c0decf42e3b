package config

import (
	"strings"
	"testing"
	"time"

	"ccbridge/internal/model"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	// All problems surface at once, not one per run.
	for _, want := range []string{"APP_ENV", "APP_PORT", "REDIS_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_VendorCredentialsOnlyRequiredWhenEnabled(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled vendors must not require credentials, got %v", err)
	}

	c.Twilio.Enabled = true
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_ACCOUNT_SID") {
		t.Fatalf("expected error for enabled twilio without credentials, got %v", err)
	}

	c.Twilio.AccountSID = "AC1"
	c.Twilio.AuthToken = "token"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresWebhookSecret(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Twilio.Enabled = true
	c.Twilio.AccountSID = "AC1"
	c.Twilio.AuthToken = "token"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without TWILIO_WEBHOOK_SECRET")
	}
	c.Twilio.WebhookSecret = "secret"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestLoad_MalformedPollingIntervalIsAnError(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("TWILIO_POLLING_INTERVAL", "banana")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_POLLING_INTERVAL") {
		t.Fatalf("malformed duration must fail loudly, not default to 0, got %v", err)
	}

	t.Setenv("TWILIO_POLLING_INTERVAL", "45s")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Twilio.PollingInterval != 45*time.Second {
		t.Fatalf("polling interval: got %v, want 45s", c.Twilio.PollingInterval)
	}

	t.Setenv("TWILIO_POLLING_INTERVAL", "")
	c, err = Load()
	if err != nil {
		t.Fatalf("load with unset interval: %v", err)
	}
	if c.Twilio.PollingInterval != 0 {
		t.Fatalf("unset interval must stay zero for the adapter default, got %v", c.Twilio.PollingInterval)
	}
}

func TestPlatformConfigs(t *testing.T) {
	c := validConfig()
	if got := c.PlatformConfigs(); len(got) != 0 {
		t.Fatalf("no vendor blocks configured, got %v", got)
	}

	c.Genesys.ClientID = "cid"
	c.Genesys.ClientSecret = "cs"
	c.Genesys.Enabled = true
	c.Twilio.AccountSID = "AC1"
	c.Twilio.AuthToken = "token"

	got := c.PlatformConfigs()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "genesys-1" || got[0].Type != model.PlatformTypeGenesys || !got[0].Enabled {
		t.Errorf("genesys record: %+v", got[0])
	}
	// Twilio block present but not enabled: registered, left disconnected.
	if got[1].ID != "twilio-1" || got[1].Enabled {
		t.Errorf("twilio record: %+v", got[1])
	}
}

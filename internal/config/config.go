package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ccbridge/internal/model"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
//
// Vendor credential blocks are secrets; never log them.
type Config struct {
	App   AppConfig
	Redis RedisConfig

	Genesys GenesysConfig
	Twilio  TwilioConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type RedisConfig struct {
	Host string
	Port int
}

type GenesysConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string

	// Region selects the Genesys Cloud domain, e.g. mypurecloud.com,
	// mypurecloud.ie, usw2.pure.cloud.
	Region string
}

type TwilioConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string

	// WebhookSecret validates inbound status callbacks when set.
	WebhookSecret string

	PollingInterval time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Genesys.Enabled = boolEnv("GENESYS_ENABLED")
	c.Genesys.ClientID = strings.TrimSpace(os.Getenv("GENESYS_CLIENT_ID"))
	c.Genesys.ClientSecret = os.Getenv("GENESYS_CLIENT_SECRET")
	c.Genesys.Region = strings.TrimSpace(os.Getenv("GENESYS_REGION"))

	c.Twilio.Enabled = boolEnv("TWILIO_ENABLED")
	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.WebhookSecret = os.Getenv("TWILIO_WEBHOOK_SECRET")
	{
		d, err := optionalDuration("TWILIO_POLLING_INTERVAL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.PollingInterval = d
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Genesys.Enabled {
		if c.Genesys.ClientID == "" {
			errs = append(errs, errors.New("GENESYS_CLIENT_ID is required when GENESYS_ENABLED"))
		}
		if c.Genesys.ClientSecret == "" {
			errs = append(errs, errors.New("GENESYS_CLIENT_SECRET is required when GENESYS_ENABLED"))
		}
	}

	if c.Twilio.Enabled {
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required when TWILIO_ENABLED"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_ENABLED"))
		}
		if c.IsProduction() && c.Twilio.WebhookSecret == "" {
			errs = append(errs, errors.New("TWILIO_WEBHOOK_SECRET is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// PlatformConfigs materializes the registration records for every configured
// vendor block. An external configuration store can supply additional records
// through the HTTP API at runtime.
func (c Config) PlatformConfigs() []model.PlatformConfig {
	var out []model.PlatformConfig
	if c.Genesys.ClientID != "" {
		out = append(out, model.PlatformConfig{
			ID:      "genesys-1",
			Name:    "Genesys Cloud",
			Type:    model.PlatformTypeGenesys,
			Enabled: c.Genesys.Enabled,
			Credentials: model.Credentials{
				ClientID:     c.Genesys.ClientID,
				ClientSecret: c.Genesys.ClientSecret,
				Region:       c.Genesys.Region,
			},
		})
	}
	if c.Twilio.AccountSID != "" {
		out = append(out, model.PlatformConfig{
			ID:              "twilio-1",
			Name:            "Twilio Voice",
			Type:            model.PlatformTypeTwilio,
			Enabled:         c.Twilio.Enabled,
			PollingInterval: c.Twilio.PollingInterval,
			Credentials: model.Credentials{
				AccountSID: c.Twilio.AccountSID,
				AuthToken:  c.Twilio.AuthToken,
			},
		})
	}
	return out
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalDuration treats an unset variable as zero (the caller's default)
// but a malformed one as a parse error.
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 2m, got %q", key, v)
	}
	return d, nil
}

func boolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

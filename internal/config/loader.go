package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML configuration file from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates a YAML configuration from r.
// Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":5050"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Realtime.Model == "" {
		c.Realtime.Model = "gpt-4o-realtime-preview"
	}
	if c.Realtime.Voice == "" {
		c.Realtime.Voice = "sage"
	}
	if c.Transcribe.Kind == "" {
		c.Transcribe.Kind = TranscriberOpenAI
	}
	if c.Restaurant.Timezone == "" {
		c.Restaurant.Timezone = "America/Chicago"
	}
	c.Call = c.Call.WithDefaults()
}

// Validate checks the configuration for missing or inconsistent values.
// All problems found are reported, joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if tls := c.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	if c.Realtime.APIKey == "" {
		errs = append(errs, errors.New("realtime.api_key is required"))
	}

	if !c.Transcribe.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("transcribe.kind: unknown kind %q", c.Transcribe.Kind))
	}
	if c.Transcribe.Kind == TranscriberWhisperServer && c.Transcribe.BaseURL == "" {
		errs = append(errs, errors.New("transcribe.base_url is required for whisper-server"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("twilio.account_sid is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("twilio.auth_token is required"))
	}
	if c.Twilio.MessagingServiceSID == "" {
		errs = append(errs, errors.New("twilio.messaging_service_sid is required"))
	}
	if c.Twilio.ManagerNumber == "" {
		errs = append(errs, errors.New("twilio.manager_number is required"))
	}

	if c.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}

	if c.Restaurant.Name == "" {
		errs = append(errs, errors.New("restaurant.name is required"))
	}
	if c.Restaurant.MenuPath == "" {
		errs = append(errs, errors.New("restaurant.menu_path is required"))
	}
	if c.Restaurant.DefaultLocation == "" {
		errs = append(errs, errors.New("restaurant.default_location is required"))
	}
	if dl := c.Restaurant.DefaultLocation; dl != "" && len(c.Restaurant.Locations) > 0 {
		if _, ok := c.Restaurant.Locations[dl]; !ok {
			errs = append(errs, fmt.Errorf("restaurant.default_location %q is not in restaurant.locations", dl))
		}
	}
	if _, err := time.LoadLocation(c.Restaurant.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("restaurant.timezone: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves the restaurant's time zone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Restaurant.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

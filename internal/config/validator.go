package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", field, raw)
	}
	return nil
}

// ValidatePath validates a processing service endpoint path
func (v *Validator) ValidatePath(field, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%s must start with '/', got %q", field, path)
	}
	return nil
}

// ValidateIPEntry validates one IP allowlist entry (address or CIDR)
func (v *Validator) ValidateIPEntry(entry string) error {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		if _, err := netip.ParsePrefix(entry); err != nil {
			return fmt.Errorf("invalid api.ip_allowlist entry %q: %w", entry, err)
		}
		return nil
	}
	if _, err := netip.ParseAddr(entry); err != nil {
		return fmt.Errorf("invalid api.ip_allowlist entry %q: %w", entry, err)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSessionBackend validates the session store name
func (v *Validator) ValidateSessionBackend(backend string) error {
	if backend == "" {
		return nil // Use default
	}

	validBackends := []string{"memory", "file", "sqlite", "redis"}
	for _, valid := range validBackends {
		if backend == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid sessions.backend: %s (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateSchedule validates a monitor cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid monitor.schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMonitor checks the fields the health monitor needs
func (v *Validator) ValidateMonitor(cfg MonitorConfig) []error {
	var errors []error
	if err := v.ValidateURL("monitor.check_url", cfg.CheckURL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateURL("monitor.notify_url", cfg.NotifyURL); err != nil {
		errors = append(errors, err)
	}
	if strings.TrimSpace(cfg.AlertRecipient) == "" {
		errors = append(errors, fmt.Errorf("monitor.alert_recipient is required"))
	}
	if strings.TrimSpace(cfg.RestartCommand) == "" {
		errors = append(errors, fmt.Errorf("monitor.restart_command is required"))
	}
	if err := v.ValidateSchedule(cfg.Schedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.ReadyRetries <= 0 {
		errors = append(errors, fmt.Errorf("monitor.ready_retries must be > 0"))
	}
	if cfg.ReadyDelayMs <= 0 {
		errors = append(errors, fmt.Errorf("monitor.ready_delay_ms must be > 0"))
	}
	return errors
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Telegram
	if cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Telegram.PollTimeout < 0 {
		errors = append(errors, fmt.Errorf("telegram.poll_timeout must be >= 0"))
	}

	// API
	if err := v.ValidatePort(cfg.API.Port); err != nil {
		errors = append(errors, err)
	}
	for _, entry := range cfg.API.IPAllowlist {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if err := v.ValidateIPEntry(entry); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.API.SignatureWindow <= 0 {
		errors = append(errors, fmt.Errorf("api.signature_window must be > 0"))
	}
	if cfg.API.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("api.rate_limit_per_minute must be >= 0"))
	}
	if cfg.API.MaxBodyMB <= 0 {
		errors = append(errors, fmt.Errorf("api.max_body_mb must be > 0"))
	}

	// Backend
	if cfg.Backend.BaseURL != "" {
		if err := v.ValidateURL("backend.base_url", cfg.Backend.BaseURL); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Backend.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("backend.timeout must be > 0"))
	}
	if cfg.Backend.MessageTimeout <= 0 {
		errors = append(errors, fmt.Errorf("backend.message_timeout must be > 0"))
	}
	paths := map[string]string{
		"backend.paths.message":    cfg.Backend.Paths.Message,
		"backend.paths.ingest":     cfg.Backend.Paths.Ingest,
		"backend.paths.candidates": cfg.Backend.Paths.Candidates,
		"backend.paths.link":       cfg.Backend.Paths.Link,
	}
	for _, field := range []string{"backend.paths.message", "backend.paths.ingest", "backend.paths.candidates", "backend.paths.link"} {
		if err := v.ValidatePath(field, paths[field]); err != nil {
			errors = append(errors, err)
		}
	}

	// Dispatch
	if strings.TrimSpace(cfg.Dispatch.DocumentMimeType) == "" {
		errors = append(errors, fmt.Errorf("dispatch.document_mime_type is required"))
	}
	if strings.TrimSpace(cfg.Dispatch.ConnectKeyword) == "" {
		errors = append(errors, fmt.Errorf("dispatch.connect_keyword is required"))
	}
	if cfg.Dispatch.Workers <= 0 {
		errors = append(errors, fmt.Errorf("dispatch.workers must be > 0"))
	}
	if cfg.Dispatch.DedupTTL < 0 {
		errors = append(errors, fmt.Errorf("dispatch.dedup_ttl must be >= 0"))
	}

	// Sessions
	if err := v.ValidateSessionBackend(cfg.Sessions.Backend); err != nil {
		errors = append(errors, err)
	}
	if cfg.Sessions.Backend == "redis" && cfg.Sessions.Redis.Addr == "" {
		errors = append(errors, fmt.Errorf("sessions.redis.addr is required for the redis backend"))
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxAgeDays < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size_mb and logging.max_age_days must not be negative"))
	}

	return errors
}

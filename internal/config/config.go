package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main docrelay configuration
type Config struct {
	// Production bypasses group-name allowlisting
	Production bool `json:"production" mapstructure:"production"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Allowlist AllowlistConfig `json:"allowlist" mapstructure:"allowlist"`
	API       APIConfig       `json:"api" mapstructure:"api"`
	Backend   BackendConfig   `json:"backend" mapstructure:"backend"`
	Dispatch  DispatchConfig  `json:"dispatch" mapstructure:"dispatch"`
	Sessions  SessionsConfig  `json:"sessions" mapstructure:"sessions"`
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	Monitor   MonitorConfig   `json:"monitor" mapstructure:"monitor"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// AllowlistConfig holds the inbound filter rules. Hot-reloadable.
type AllowlistConfig struct {
	Groups  []string `json:"groups" mapstructure:"groups"`
	Numbers []string `json:"numbers" mapstructure:"numbers"`
}

// APIConfig holds the outbound delivery HTTP server configuration
type APIConfig struct {
	Host                  string   `json:"host" mapstructure:"host"`
	Port                  int      `json:"port" mapstructure:"port"`
	APIKey                string   `json:"api_key" mapstructure:"api_key"`
	IPAllowlist           []string `json:"ip_allowlist" mapstructure:"ip_allowlist"`
	TrustForwardedFor     bool     `json:"trust_forwarded_for" mapstructure:"trust_forwarded_for"`
	RequireSignedRequests bool     `json:"require_signed_requests" mapstructure:"require_signed_requests"`
	SignatureWindow       int      `json:"signature_window" mapstructure:"signature_window"` // seconds
	RateLimitPerMinute    int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	MaxBodyMB             int      `json:"max_body_mb" mapstructure:"max_body_mb"`
	GuardGetGroups        bool     `json:"guard_get_groups" mapstructure:"guard_get_groups"`
	CORSOrigins           []string `json:"cors_origins" mapstructure:"cors_origins"`
}

// BackendConfig holds the processing service client configuration
type BackendConfig struct {
	BaseURL        string       `json:"base_url" mapstructure:"base_url"`
	Secret         string       `json:"secret" mapstructure:"secret"`
	SignRequests   bool         `json:"sign_requests" mapstructure:"sign_requests"`
	Timeout        int          `json:"timeout" mapstructure:"timeout"`                 // seconds
	MessageTimeout int          `json:"message_timeout" mapstructure:"message_timeout"` // seconds
	Paths          BackendPaths `json:"paths" mapstructure:"paths"`
}

// BackendPaths are the processing service endpoints
type BackendPaths struct {
	Message    string `json:"message" mapstructure:"message"`
	Ingest     string `json:"ingest" mapstructure:"ingest"`
	Candidates string `json:"candidates" mapstructure:"candidates"`
	Link       string `json:"link" mapstructure:"link"`
}

// DispatchConfig holds inbound dispatch configuration
type DispatchConfig struct {
	DocumentMimeType string `json:"document_mime_type" mapstructure:"document_mime_type"`
	ConnectKeyword   string `json:"connect_keyword" mapstructure:"connect_keyword"`
	RelayUnhandled   bool   `json:"relay_unhandled" mapstructure:"relay_unhandled"`
	Workers          int    `json:"workers" mapstructure:"workers"`
	DedupTTL         int    `json:"dedup_ttl" mapstructure:"dedup_ttl"` // seconds
}

// SessionsConfig selects the selection session store
type SessionsConfig struct {
	Backend    string      `json:"backend" mapstructure:"backend"` // memory, file, sqlite, redis
	Dir        string      `json:"dir" mapstructure:"dir"`
	SQLitePath string      `json:"sqlite_path" mapstructure:"sqlite_path"`
	Redis      RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds redis session store settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken    string `json:"bot_token" mapstructure:"bot_token"`
	PollTimeout int    `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
}

// MonitorConfig holds health monitor configuration
type MonitorConfig struct {
	CheckURL       string `json:"check_url" mapstructure:"check_url"`
	NotifyURL      string `json:"notify_url" mapstructure:"notify_url"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	AlertRecipient string `json:"alert_recipient" mapstructure:"alert_recipient"`
	RestartCommand string `json:"restart_command" mapstructure:"restart_command"`
	Schedule       string `json:"schedule" mapstructure:"schedule"`
	ReadyRetries   int    `json:"ready_retries" mapstructure:"ready_retries"`
	ReadyDelayMs   int    `json:"ready_delay_ms" mapstructure:"ready_delay_ms"`
	Timeout        int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"` // JSON lines; empty disables

	MaxSizeMB  int  `json:"max_size_mb" mapstructure:"max_size_mb"` // 0 disables rotation
	MaxAgeDays int  `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Allowlist: AllowlistConfig{
			Groups:  []string{},
			Numbers: []string{},
		},
		API: APIConfig{
			Host:               "0.0.0.0",
			Port:               3500,
			IPAllowlist:        []string{},
			SignatureWindow:    300,
			RateLimitPerMinute: 120,
			MaxBodyMB:          50,
			CORSOrigins:        []string{},
		},
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:3001",
			SignRequests:   true,
			Timeout:        10,
			MessageTimeout: 15,
			Paths: BackendPaths{
				Message:    "/message",
				Ingest:     "/process_whatsapp_pdf",
				Candidates: "/get_approved_requests_json",
				Link:       "/api/bot/link_receipt",
			},
		},
		Dispatch: DispatchConfig{
			DocumentMimeType: "application/pdf",
			ConnectKeyword:   "connect",
			RelayUnhandled:   true,
			Workers:          4,
			DedupTTL:         600,
		},
		Sessions: SessionsConfig{
			Backend: "file",
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "docrelay:session:",
			},
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Monitor: MonitorConfig{
			CheckURL:       "http://localhost:3500/get-groups",
			NotifyURL:      "http://localhost:3500/send-to-user",
			RestartCommand: "pm2 restart whatsapp-bot",
			Schedule:       "@every 1m",
			ReadyRetries:   20,
			ReadyDelayMs:   1000,
			Timeout:        10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.APIKey = mask(c.API.APIKey)
	out.Backend.Secret = mask(c.Backend.Secret)
	out.Telegram.BotToken = mask(c.Telegram.BotToken)
	out.Monitor.APIKey = mask(c.Monitor.APIKey)
	out.Sessions.Redis.Password = mask(c.Sessions.Redis.Password)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// BackendTimeout returns the default processing service timeout.
func (c *Config) BackendTimeout() time.Duration { return seconds(c.Backend.Timeout) }

// MessageTimeout returns the timeout of the relay endpoint.
func (c *Config) MessageTimeout() time.Duration { return seconds(c.Backend.MessageTimeout) }

// SignatureWindow returns the accepted clock skew for signed API requests.
func (c *Config) SignatureWindow() time.Duration { return seconds(c.API.SignatureWindow) }

// DedupTTL returns how long inbound message ids are remembered.
func (c *Config) DedupTTL() time.Duration { return seconds(c.Dispatch.DedupTTL) }

// MaxBodyBytes returns the request body limit of the HTTP API.
func (c *Config) MaxBodyBytes() int64 { return int64(c.API.MaxBodyMB) << 20 }

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required: delivery endpoints reject every request without it")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.SignRequests && c.Backend.Secret == "" {
		return fmt.Errorf("backend.secret is required when backend.sign_requests is enabled")
	}
	if c.API.RequireSignedRequests && c.Backend.Secret == "" {
		return fmt.Errorf("backend.secret is required when api.require_signed_requests is enabled")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

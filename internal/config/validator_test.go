package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTelegramToken(t *testing.T) {
	v := NewValidator()

	t.Run("valid token", func(t *testing.T) {
		err := v.ValidateTelegramToken("123456789:ABCdefGHIjklMNOpqrsTUVwxyz")
		assert.NoError(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		err := v.ValidateTelegramToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("empty token", func(t *testing.T) {
		err := v.ValidateTelegramToken("")
		assert.Error(t, err)
	})
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL("backend.base_url", "http://127.0.0.1:3001"))
	assert.NoError(t, v.ValidateURL("backend.base_url", "https://backend.example.com"))
	assert.Error(t, v.ValidateURL("backend.base_url", "127.0.0.1:3001"))
	assert.Error(t, v.ValidateURL("backend.base_url", "ftp://host"))
	assert.Error(t, v.ValidateURL("backend.base_url", "http://"))
}

func TestValidateIPEntry(t *testing.T) {
	v := NewValidator()

	for _, ok := range []string{"127.0.0.1", "::1", "10.0.0.0/8", " 192.168.1.0/24 "} {
		assert.NoError(t, v.ValidateIPEntry(ok), ok)
	}
	for _, bad := range []string{"localhost", "10.0.0.0/33", "1.2.3"} {
		assert.Error(t, v.ValidateIPEntry(bad), bad)
	}
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(3500))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(70000))
}

func TestValidateSessionBackend(t *testing.T) {
	v := NewValidator()

	for _, backend := range []string{"", "memory", "file", "sqlite", "redis"} {
		assert.NoError(t, v.ValidateSessionBackend(backend), backend)
	}
	assert.Error(t, v.ValidateSessionBackend("mongo"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule("@every 1m"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("every minute"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			assert.NoError(t, v.ValidateLogLevel(level))
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("trace"))
	})
}

func TestValidateMonitor(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig().Monitor
	cfg.AlertRecipient = "905431205525"
	assert.Empty(t, v.ValidateMonitor(cfg))

	cfg.AlertRecipient = ""
	cfg.RestartCommand = " "
	cfg.ReadyRetries = 0
	assert.Len(t, v.ValidateMonitor(cfg), 3)
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("collects every error", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.BotToken = "bad"
		cfg.API.IPAllowlist = []string{"127.0.0.1", "", "nope"}
		cfg.Backend.Timeout = 0
		cfg.Backend.Paths.Link = "link"
		cfg.Dispatch.Workers = 0
		cfg.Sessions.Backend = "redis"
		cfg.Sessions.Redis.Addr = ""
		cfg.Logging.Level = "verbose"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 7)
	})
}

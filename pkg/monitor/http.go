package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/docrelay/pkg/signing"
)

// Checker reports whether the relay is serving.
type Checker interface {
	Check(ctx context.Context) error
}

// Supervisor restarts the relay process.
type Supervisor interface {
	Restart(ctx context.Context) error
}

// Alerter notifies an operator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// HTTPChecker calls the group listing endpoint. APIKey is sent when set,
// for relays that guard /get-groups with the key.
type HTTPChecker struct {
	URL    string
	APIKey string
	Client *http.Client
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := httpClient(c.Client).Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("health check status %d: unreadable body: %w", resp.StatusCode, err)
	}
	if !body.Success {
		return fmt.Errorf("health check status %d: relay did not report success", resp.StatusCode)
	}
	return nil
}

// HTTPAlerter sends alerts as direct messages through the relay itself.
// A non-empty Secret signs each request body for relays that require
// signed delivery requests.
type HTTPAlerter struct {
	URL       string
	APIKey    string
	Secret    string
	Recipient string
	Client    *http.Client
}

func (a *HTTPAlerter) Alert(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"phoneNumber": a.Recipient,
		"message":     text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("X-API-Key", a.APIKey)
	}
	if a.Secret != "" {
		env, err := signing.Sign(a.Secret, payload, time.Now())
		if err != nil {
			return fmt.Errorf("sign alert: %w", err)
		}
		env.Apply(req.Header)
	}

	resp, err := httpClient(a.Client).Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send alert: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// CommandSupervisor runs a shell-free restart command such as
// "pm2 restart whatsapp-bot".
type CommandSupervisor struct {
	Command string
}

func (s *CommandSupervisor) Restart(ctx context.Context) error {
	args := strings.Fields(s.Command)
	if len(args) == 0 {
		return fmt.Errorf("no restart command configured")
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart %q: %w: %s", s.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/docrelay/internal/config"
	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/pkg/monitor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a relay and restart it when it stops answering",
	Long: `Poll the relay's group listing endpoint. On failure, alert the operator,
run the restart command, wait for the relay to come back and report the result.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single check and exit")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v := config.NewValidator()
	if errs := v.ValidateMonitor(cfg.Monitor); len(errs) > 0 {
		return fmt.Errorf("invalid monitor configuration: %w", errs[0])
	}
	if cfg.API.RequireSignedRequests && cfg.Backend.Secret == "" {
		return fmt.Errorf("invalid monitor configuration: api.require_signed_requests needs backend.secret to sign alerts")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	m, err := newMonitor(cfg, log.Component("monitor"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if monitorOnce {
		outcome := m.RunOnce(ctx)
		cmd.Printf("Outcome: %s\n", outcome)
		if outcome == monitor.OutcomeUnreachable || outcome == monitor.OutcomeRestartFailed {
			return fmt.Errorf("relay did not recover: %s", outcome)
		}
		return nil
	}
	return m.Run(ctx, cfg.Monitor.Schedule)
}

func newMonitor(cfg *config.Config, logger zerolog.Logger) (*monitor.Monitor, error) {
	mc := cfg.Monitor
	client := &http.Client{Timeout: time.Duration(mc.Timeout) * time.Second}

	apiKey := mc.APIKey
	if apiKey == "" {
		apiKey = cfg.API.APIKey
	}

	// Present the same credentials the relay's gates demand.
	checker := &monitor.HTTPChecker{URL: mc.CheckURL, Client: client}
	if cfg.API.GuardGetGroups {
		checker.APIKey = apiKey
	}
	var secret string
	if cfg.API.RequireSignedRequests {
		secret = cfg.Backend.Secret
	}

	return monitor.New(monitor.Options{
		Checker: checker,
		Supervisor: &monitor.CommandSupervisor{
			Command: mc.RestartCommand,
		},
		Alerter: &monitor.HTTPAlerter{
			URL:       mc.NotifyURL,
			APIKey:    apiKey,
			Secret:    secret,
			Recipient: mc.AlertRecipient,
			Client:    client,
		},
		ReadyRetries: mc.ReadyRetries,
		ReadyDelay:   time.Duration(mc.ReadyDelayMs) * time.Millisecond,
		Metrics:      metrics.NewMetrics(),
		Logger:       logger,
	})
}

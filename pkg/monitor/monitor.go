package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultSchedule     = "@every 1m"
	DefaultReadyRetries = 20
	DefaultReadyDelay   = time.Second
)

// Outcome is the result of one monitor run.
type Outcome string

const (
	OutcomeHealthy       Outcome = "healthy"
	OutcomeRecovered     Outcome = "recovered"
	OutcomeUnreachable   Outcome = "unreachable"
	OutcomeRestartFailed Outcome = "restart_failed"
)

const (
	alertDown          = "⚠️ Chat relay connection is DOWN. Restarting it now..."
	alertRecovered     = "✅ Chat relay was restarted and the connection is back."
	alertUnreachable   = "⚠️ Chat relay was restarted but its API is still unreachable."
	alertRestartFailed = "❌ Chat relay could not be restarted. Manual intervention may be needed."
)

// Options configures a Monitor.
type Options struct {
	Checker      Checker
	Supervisor   Supervisor
	Alerter      Alerter
	ReadyRetries int
	ReadyDelay   time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Monitor checks the relay and restarts it when it stops answering.
type Monitor struct {
	checker    Checker
	supervisor Supervisor
	alerter    Alerter
	retries    int
	delay      time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Checker == nil || opts.Supervisor == nil || opts.Alerter == nil {
		return nil, errors.New("monitor requires a checker, supervisor and alerter")
	}
	if opts.ReadyRetries <= 0 {
		opts.ReadyRetries = DefaultReadyRetries
	}
	if opts.ReadyDelay <= 0 {
		opts.ReadyDelay = DefaultReadyDelay
	}
	return &Monitor{
		checker:    opts.Checker,
		supervisor: opts.Supervisor,
		alerter:    opts.Alerter,
		retries:    opts.ReadyRetries,
		delay:      opts.ReadyDelay,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("component", "monitor").Logger(),
		sleep:      sleepCtx,
	}, nil
}

// RunOnce performs one check and, if needed, one restart cycle.
func (m *Monitor) RunOnce(ctx context.Context) Outcome {
	outcome := m.runOnce(ctx)
	m.metrics.RecordHealthCheck(string(outcome))
	return outcome
}

func (m *Monitor) runOnce(ctx context.Context) Outcome {
	err := m.checker.Check(ctx)
	if err == nil {
		m.logger.Info().Msg("Relay is healthy")
		return OutcomeHealthy
	}

	m.logger.Error().Err(err).Msg("Relay is not answering, restarting")
	m.alert(ctx, alertDown)

	if err := m.supervisor.Restart(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Restart failed")
		m.alert(ctx, alertRestartFailed)
		return OutcomeRestartFailed
	}
	m.logger.Info().Msg("Restart command completed")

	if m.waitReady(ctx) {
		m.logger.Info().Msg("Relay is back")
		m.alert(ctx, alertRecovered)
		return OutcomeRecovered
	}

	m.logger.Error().Int("retries", m.retries).Dur("delay", m.delay).Msg("Relay did not become ready after restart")
	m.alert(ctx, alertUnreachable)
	return OutcomeUnreachable
}

func (m *Monitor) waitReady(ctx context.Context) bool {
	for i := 0; i < m.retries; i++ {
		if err := m.checker.Check(ctx); err == nil {
			return true
		}
		m.logger.Debug().Int("attempt", i+1).Int("of", m.retries).Msg("Waiting for relay")
		if err := m.sleep(ctx, m.delay); err != nil {
			return false
		}
	}
	return false
}

// alert failures are logged only; the restart cycle continues regardless.
func (m *Monitor) alert(ctx context.Context, text string) {
	if err := m.alerter.Alert(ctx, text); err != nil {
		m.logger.Error().Err(err).Msg("Failed to send alert")
		return
	}
	m.logger.Info().Str("alert", text).Msg("Alert sent")
}

// Run executes RunOnce on schedule until ctx is cancelled. Runs never overlap.
func (m *Monitor) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { m.RunOnce(ctx) }))
	c.Start()
	m.logger.Info().Str("schedule", schedule).Msg("Health monitor started")

	<-ctx.Done()
	<-c.Stop().Done()
	m.logger.Info().Msg("Health monitor stopped")
	return nil
}

// ParseSchedule accepts five-field cron expressions and descriptors like "@every 1m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

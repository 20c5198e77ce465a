package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockSupervisor struct {
	mock.Mock
}

func (m *MockSupervisor) Restart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func setupMonitor(t *testing.T) (*Monitor, *MockChecker, *MockSupervisor, *MockAlerter, *int) {
	t.Helper()
	checker, supervisor, alerter := &MockChecker{}, &MockSupervisor{}, &MockAlerter{}
	m, err := New(Options{
		Checker:      checker,
		Supervisor:   supervisor,
		Alerter:      alerter,
		ReadyRetries: 3,
		ReadyDelay:   time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	sleeps := 0
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return m, checker, supervisor, alerter, &sleeps
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Checker: &MockChecker{}})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	m, err := New(Options{Checker: &MockChecker{}, Supervisor: &MockSupervisor{}, Alerter: &MockAlerter{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultReadyRetries, m.retries)
	assert.Equal(t, DefaultReadyDelay, m.delay)
}

func TestRunOnceHealthy(t *testing.T) {
	m, checker, supervisor, alerter, _ := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(nil).Once()

	assert.Equal(t, OutcomeHealthy, m.RunOnce(context.Background()))

	checker.AssertExpectations(t)
	supervisor.AssertNotCalled(t, "Restart", mock.Anything)
	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything)
}

func TestRunOnceRecovers(t *testing.T) {
	m, checker, supervisor, alerter, sleeps := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(errors.New("connection refused")).Twice()
	checker.On("Check", mock.Anything).Return(nil).Once()
	supervisor.On("Restart", mock.Anything).Return(nil).Once()
	alerter.On("Alert", mock.Anything, alertDown).Return(nil).Once()
	alerter.On("Alert", mock.Anything, alertRecovered).Return(nil).Once()

	assert.Equal(t, OutcomeRecovered, m.RunOnce(context.Background()))
	assert.Equal(t, 1, *sleeps)

	checker.AssertExpectations(t)
	supervisor.AssertExpectations(t)
	alerter.AssertExpectations(t)
}

func TestRunOnceUnreachableAfterRestart(t *testing.T) {
	m, checker, supervisor, alerter, sleeps := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(errors.New("down"))
	supervisor.On("Restart", mock.Anything).Return(nil).Once()
	alerter.On("Alert", mock.Anything, alertDown).Return(nil).Once()
	alerter.On("Alert", mock.Anything, alertUnreachable).Return(nil).Once()

	assert.Equal(t, OutcomeUnreachable, m.RunOnce(context.Background()))
	assert.Equal(t, 3, *sleeps)
	checker.AssertNumberOfCalls(t, "Check", 4)
	alerter.AssertExpectations(t)
}

func TestRunOnceRestartFails(t *testing.T) {
	m, checker, supervisor, alerter, _ := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(errors.New("down")).Once()
	supervisor.On("Restart", mock.Anything).Return(errors.New("pm2: not found")).Once()
	alerter.On("Alert", mock.Anything, alertDown).Return(nil).Once()
	alerter.On("Alert", mock.Anything, alertRestartFailed).Return(nil).Once()

	assert.Equal(t, OutcomeRestartFailed, m.RunOnce(context.Background()))
	checker.AssertNumberOfCalls(t, "Check", 1)
	alerter.AssertExpectations(t)
}

func TestAlertFailureDoesNotStopRestart(t *testing.T) {
	m, checker, supervisor, alerter, _ := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(errors.New("down")).Once()
	checker.On("Check", mock.Anything).Return(nil).Once()
	supervisor.On("Restart", mock.Anything).Return(nil).Once()
	alerter.On("Alert", mock.Anything, mock.Anything).Return(errors.New("relay is down too"))

	assert.Equal(t, OutcomeRecovered, m.RunOnce(context.Background()))
	supervisor.AssertExpectations(t)
	alerter.AssertNumberOfCalls(t, "Alert", 2)
}

func TestWaitReadyStopsOnCancel(t *testing.T) {
	m, checker, _, _, _ := setupMonitor(t)
	checker.On("Check", mock.Anything).Return(errors.New("down"))
	m.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.waitReady(ctx))
	checker.AssertNumberOfCalls(t, "Check", 1)
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	sched, err := ParseSchedule("@every 1m")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), sched.Next(now))

	sched, err = ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), sched.Next(now))

	_, err = ParseSchedule("every minute")
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	m, _, _, _, _ := setupMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, "@every 1h") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	m, _, _, _, _ := setupMonitor(t)
	assert.Error(t, m.Run(context.Background(), "nonsense"))
}

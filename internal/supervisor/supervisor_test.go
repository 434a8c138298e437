package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"daylogd/internal/config"
	"daylogd/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Watch.Roots = []string{t.TempDir()}
	return cfg
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s, err := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunRecordsSessionMarkers(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	segs, _, err := s.Store().QueryRange(0, time.Now().Add(time.Hour).UnixNano())
	require.NoError(t, err)

	var labels []string
	for _, seg := range segs {
		if seg.Kind == store.KindSystem {
			labels = append(labels, seg.Label)
			require.True(t, seg.Closed, "markers must be sealed on insert")
			require.NotNil(t, seg.EndNs)
		}
	}
	require.Equal(t, []string{"session_start", "session_end"}, labels)
}

func TestStatusSnapshot(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	st, err := s.Status()
	require.NoError(t, err)
	require.Equal(t, StateRunning, st.Subsystems["sampler"])
	require.Equal(t, StateRunning, st.Subsystems["watcher"])

	cancel()
	require.NoError(t, <-done)

	st, err = s.Status()
	require.NoError(t, err)
	require.Equal(t, StateStopped, st.Subsystems["sampler"])
	require.Equal(t, StateStopped, st.Subsystems["watcher"])
	require.GreaterOrEqual(t, st.Store.ActivitySegments, int64(2))
}

func TestRunSubsystemRecoversFromPanic(t *testing.T) {
	s := newTestSupervisor(t)
	s.backoff = time.Millisecond

	var mu sync.Mutex
	attempts := 0

	var wg sync.WaitGroup
	wg.Add(1)
	go s.runSubsystem(context.Background(), &wg, "flaky", func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			panic("probe exploded")
		}
		return nil
	})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, attempts, "panics must be caught and the subsystem restarted")

	st, err := s.Status()
	require.NoError(t, err)
	require.Equal(t, StateStopped, st.Subsystems["flaky"])
}

func TestRunSubsystemHaltsAfterRepeatedFailures(t *testing.T) {
	s := newTestSupervisor(t)
	s.backoff = time.Millisecond

	attempts := 0
	var wg sync.WaitGroup
	wg.Add(1)
	go s.runSubsystem(context.Background(), &wg, "broken", func(ctx context.Context) error {
		attempts++
		return errors.New("storage unavailable")
	})
	wg.Wait()

	require.Equal(t, maxRestarts, attempts)
}

func TestDaemonManagerLifecycle(t *testing.T) {
	m := NewDaemonManager(t.TempDir())

	require.False(t, m.IsRunning())

	require.NoError(t, m.WritePID())
	pid, err := m.ReadPID()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
	require.True(t, m.IsRunning())

	state := &DaemonState{
		PID:       pid,
		StartedAt: time.Now().Add(-time.Minute),
		Version:   "0.1.0",
		DBPath:    "/tmp/events.db",
	}
	require.NoError(t, m.WriteState(state))

	got, err := m.ReadState()
	require.NoError(t, err)
	require.Equal(t, state.PID, got.PID)
	require.Equal(t, state.Version, got.Version)

	status := m.Status()
	require.True(t, status.Running)
	require.Equal(t, pid, status.PID)
	require.Greater(t, status.Uptime, time.Duration(0))

	m.Cleanup()
	require.False(t, m.IsRunning())
	_, err = m.ReadState()
	require.Error(t, err)
}

func TestDaemonManagerRejectsGarbagePIDFile(t *testing.T) {
	dir := t.TempDir()
	m := NewDaemonManager(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daylogd.pid"), []byte("not a pid"), 0o600))

	_, err := m.ReadPID()
	require.Error(t, err)
	require.False(t, m.IsRunning())
}

func TestStateChangesReachStateFile(t *testing.T) {
	s := newTestSupervisor(t)

	mgr := NewDaemonManager(t.TempDir())
	require.NoError(t, mgr.WriteState(&DaemonState{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Version:   "test",
	}))

	s.OnStateChange(func(states map[string]SubsystemState) {
		snapshot := make(map[string]string, len(states))
		for name, state := range states {
			snapshot[name] = string(state)
		}
		_ = mgr.UpdateSubsystems(snapshot)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := mgr.ReadState()
		require.NoError(t, err)
		if state.Subsystems["sampler"] == string(StateRunning) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	state, err := mgr.ReadState()
	require.NoError(t, err)
	require.Equal(t, string(StateStopped), state.Subsystems["sampler"])
	require.Equal(t, string(StateStopped), state.Subsystems["watcher"])
	require.Equal(t, os.Getpid(), state.PID, "subsystem updates preserve the other fields")
}

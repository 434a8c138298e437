// Package supervisor owns the capture process lifecycle: it opens the
// store, runs the sampler and the watcher as isolated subsystems, and
// maintains the PID and state files other invocations use to find a
// running daemon.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DaemonState is the persistent record of a running capture process.
// Subsystems mirrors the supervisor's per-subsystem state so an external
// status query can see a halted sampler or watcher.
type DaemonState struct {
	PID        int               `json:"pid"`
	StartedAt  time.Time         `json:"started_at"`
	Version    string            `json:"version"`
	DBPath     string            `json:"db_path"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
}

// DaemonStatus is the daemon state resolved for display.
type DaemonStatus struct {
	Running    bool
	PID        int
	StartedAt  time.Time
	Uptime     time.Duration
	Version    string
	DBPath     string
	Subsystems map[string]string
}

// DaemonManager handles PID and state file lifecycle under the runtime
// directory.
type DaemonManager struct {
	pidFile   string
	stateFile string
}

// NewDaemonManager creates a manager rooted at runDir.
func NewDaemonManager(runDir string) *DaemonManager {
	return &DaemonManager{
		pidFile:   filepath.Join(runDir, "daylogd.pid"),
		stateFile: filepath.Join(runDir, "daylogd.state"),
	}
}

// IsRunning reports whether the PID on file belongs to a live process.
func (m *DaemonManager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// ReadPID reads the daemon's PID from the PID file.
func (m *DaemonManager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// WritePID writes the current process PID to the PID file.
func (m *DaemonManager) WritePID() error {
	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0700); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// WriteState writes the daemon state file.
func (m *DaemonManager) WriteState(state *DaemonState) error {
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0700); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(m.stateFile, data, 0600)
}

// ReadState reads the daemon state file.
func (m *DaemonManager) ReadState() (*DaemonState, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}

	var state DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// SignalStop sends SIGTERM to the process on file.
func (m *DaemonManager) SignalStop() error {
	pid, err := m.ReadPID()
	if err != nil {
		return fmt.Errorf("read PID: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	return proc.Signal(syscall.SIGTERM)
}

// WaitForStop blocks until the daemon exits or the timeout elapses.
func (m *DaemonManager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %v", timeout)
}

// Cleanup removes PID and state files.
func (m *DaemonManager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// Status resolves the files against the live process table.
func (m *DaemonManager) Status() DaemonStatus {
	var status DaemonStatus

	if pid, err := m.ReadPID(); err == nil {
		if alive, err := process.PidExists(int32(pid)); err == nil && alive {
			status.Running = true
			status.PID = pid
		}
	}

	if state, err := m.ReadState(); err == nil {
		status.StartedAt = state.StartedAt
		status.Version = state.Version
		status.DBPath = state.DBPath
		status.Subsystems = state.Subsystems
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	}
	return status
}

// UpdateSubsystems rewrites the state file with a fresh subsystem
// snapshot, preserving the other fields.
func (m *DaemonManager) UpdateSubsystems(states map[string]string) error {
	state, err := m.ReadState()
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	state.Subsystems = states
	return m.WriteState(state)
}

// DefaultRunDir returns the per-user runtime directory for the PID and
// state files.
func DefaultRunDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "daylogd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "daylogd")
	}
	return filepath.Join(home, ".local", "state", "daylogd", "run")
}

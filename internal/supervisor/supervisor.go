package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daylogd/internal/config"
	"daylogd/internal/sampler"
	"daylogd/internal/store"
	"daylogd/internal/watcher"
)

const (
	// maxRestarts bounds how often a failed subsystem is restarted before
	// it is halted for the remainder of the session.
	maxRestarts = 5
	baseBackoff = time.Second
)

// SubsystemState describes one subsystem in the status snapshot.
type SubsystemState string

const (
	StateRunning  SubsystemState = "running"
	StateDegraded SubsystemState = "degraded"
	StateStopped  SubsystemState = "stopped"
)

// Status is a point-in-time snapshot of the capture process.
type Status struct {
	StartedAt  time.Time
	Subsystems map[string]SubsystemState
	Sampler    sampler.Stats
	Watcher    watcher.Stats
	Store      store.Counts
}

// Supervisor wires the store, sampler and watcher together and keeps one
// subsystem's failure from taking down the other. The store is opened and
// recovered before any subsystem starts so every writer sees a clean
// baseline.
type Supervisor struct {
	cfg *config.Config
	log *slog.Logger

	st   *store.Store
	samp *sampler.Sampler
	wtch *watcher.Watcher

	startedAt time.Time
	backoff   time.Duration

	mu      sync.Mutex
	states  map[string]SubsystemState
	onState func(map[string]SubsystemState)
}

// New opens the event store, verifies disk capacity, and constructs the
// subsystems. The watcher is optional: when no configured root is
// watchable the sampler still runs.
func New(cfg *config.Config, log *slog.Logger) (*Supervisor, error) {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.CheckCapacity(); err != nil {
		st.Close()
		return nil, err
	}

	s := &Supervisor{
		cfg:     cfg,
		log:     log,
		st:      st,
		backoff: baseBackoff,
		states:  make(map[string]SubsystemState),
	}

	s.samp = sampler.New(st, sampler.NewProbe(), sampler.Options{
		PollInterval:      cfg.PollInterval(),
		IdleThreshold:     cfg.IdleThreshold(),
		ProbeTimeout:      cfg.ProbeTimeout(),
		TrackApplications: cfg.Sampler.TrackApplications,
		TrackWebsites:     cfg.Sampler.TrackWebsites,
	}, log.With("component", "sampler"))

	w, err := watcher.New(st, watcher.Options{
		Roots:             cfg.Watch.Roots,
		IncludeExtensions: cfg.Watch.IncludeExtensions,
		IgnoreDirs:        cfg.Watch.IgnoreDirs,
		Debounce:          cfg.DebounceWindow(),
		MaxFileSize:       cfg.Watch.MaxFileSize,
	}, log.With("component", "watcher"))
	if err != nil {
		log.Warn("file watching disabled", "error", err)
	} else {
		s.wtch = w
	}

	return s, nil
}

// Store exposes the shared event store for the status and query surfaces.
func (s *Supervisor) Store() *store.Store {
	return s.st
}

// Run marks the session, runs all subsystems until ctx is cancelled, then
// seals the session. Each subsystem runs in its own goroutine behind a
// panic guard with bounded restarts, so a crashing watcher leaves the
// sampler recording.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	if err := s.mark("session_start"); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go s.runSubsystem(ctx, &wg, "sampler", s.samp.Run)

	if s.wtch != nil {
		wg.Add(1)
		go s.runSubsystem(ctx, &wg, "watcher", s.wtch.Run)
	}

	<-ctx.Done()
	wg.Wait()

	if err := s.mark("session_end"); err != nil {
		s.log.Error("record session end", "error", err)
	}
	return nil
}

// Close seals any open segments and closes the store.
func (s *Supervisor) Close() error {
	if _, err := s.st.CloseOpenSegments(time.Now().UnixNano()); err != nil {
		s.st.Close()
		return err
	}
	return s.st.Close()
}

// mark inserts an already-closed system segment at the current instant.
func (s *Supervisor) mark(label string) error {
	now := time.Now().UnixNano()
	end := now
	return s.st.AppendActivity(&store.ActivitySegment{
		Kind:    store.KindSystem,
		Label:   label,
		StartNs: now,
		EndNs:   &end,
		Closed:  true,
	})
}

// runSubsystem keeps one subsystem alive across panics and transient
// failures. After maxRestarts consecutive failures the subsystem is
// halted; context cancellation is a normal stop.
func (s *Supervisor) runSubsystem(ctx context.Context, wg *sync.WaitGroup, name string, run func(context.Context) error) {
	defer wg.Done()
	defer s.setState(name, StateStopped)

	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		s.setState(name, StateRunning)
		err := s.guard(ctx, name, run)

		if ctx.Err() != nil {
			if err != nil {
				s.log.Warn("subsystem error during shutdown", "subsystem", name, "error", err)
			}
			return
		}
		if err == nil {
			s.log.Info("subsystem exited", "subsystem", name)
			return
		}

		if attempt >= maxRestarts {
			s.log.Error("subsystem halted after repeated failures",
				"subsystem", name, "attempts", attempt, "error", err)
			return
		}

		s.setState(name, StateDegraded)
		s.log.Error("subsystem failed, restarting",
			"subsystem", name, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// guard converts a subsystem panic into an error so one bad probe or
// event cannot kill the process.
func (s *Supervisor) guard(ctx context.Context, name string, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return run(ctx)
}

// OnStateChange registers a callback invoked with a snapshot of all
// subsystem states whenever one changes. The daemon uses it to persist
// the snapshot to the state file so the external status command can see
// a halted subsystem.
func (s *Supervisor) OnStateChange(fn func(map[string]SubsystemState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Supervisor) setState(name string, state SubsystemState) {
	s.mu.Lock()
	s.states[name] = state
	fn := s.onState
	var snapshot map[string]SubsystemState
	if fn != nil {
		snapshot = make(map[string]SubsystemState, len(s.states))
		for k, v := range s.states {
			snapshot[k] = v
		}
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Status snapshots the supervisor and its subsystems.
func (s *Supervisor) Status() (Status, error) {
	counts, err := s.st.Counts()
	if err != nil {
		return Status{}, err
	}

	st := Status{
		StartedAt:  s.startedAt,
		Subsystems: make(map[string]SubsystemState),
		Sampler:    s.samp.Stats(),
		Store:      counts,
	}
	if s.wtch != nil {
		st.Watcher = s.wtch.Stats()
	}

	s.mu.Lock()
	for name, state := range s.states {
		st.Subsystems[name] = state
	}
	s.mu.Unlock()
	return st, nil
}

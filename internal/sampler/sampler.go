package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daylogd/internal/store"
)

// maxConsecutiveFailures is how many probe failures in a row are tolerated
// before the foreground channel degrades to the "unknown" label.
const maxConsecutiveFailures = 3

// labelUnknown marks a channel whose probe keeps failing.
const labelUnknown = "unknown"

// labelIdle is the single label used on the idle channel.
const labelIdle = "idle"

// Options configures a Sampler.
type Options struct {
	PollInterval      time.Duration
	IdleThreshold     time.Duration
	ProbeTimeout      time.Duration
	TrackApplications bool
	TrackWebsites     bool
}

// Stats is a snapshot of sampler counters for the status query.
type Stats struct {
	Ticks          int64
	FailedTicks    int64
	SegmentsOpened int64
}

// channel holds the per-kind open segment; nil means no segment is open.
// Together the channels implement the NoSegment -> Open(label) -> close
// state machine, one instance per logical channel.
type channel struct {
	kind store.SegmentKind
	open *store.ActivitySegment
}

// Sampler polls the probe on a fixed interval and turns state changes into
// activity segments. All persistent state lives in the store; the in-memory
// channel map is rebuilt from scratch on every start.
type Sampler struct {
	store *store.Store
	probe Probe
	log   *slog.Logger
	opts  Options

	// now is injectable for tests.
	now func() time.Time

	caps     Capabilities
	app      *channel
	web      *channel
	idleCh   *channel
	idle     bool
	failures int

	mu    sync.Mutex
	stats Stats
}

// New creates a Sampler. The probe decides which channels produce output.
func New(st *store.Store, probe Probe, opts Options, log *slog.Logger) *Sampler {
	return &Sampler{
		store:  st,
		probe:  probe,
		log:    log,
		opts:   opts,
		now:    time.Now,
		caps:   probe.Capabilities(),
		app:    &channel{kind: store.KindAppFocus},
		web:    &channel{kind: store.KindWebsite},
		idleCh: &channel{kind: store.KindIdle},
	}
}

// reset clears per-run in-memory state. Open-segment pointers from a
// previous run are stale once recovery seals their rows; heartbeating
// them would re-insert duplicates.
func (s *Sampler) reset() {
	s.app.open = nil
	s.web.open = nil
	s.idleCh.open = nil
	s.idle = false
	s.failures = 0
}

// Stats returns a snapshot of the sampler counters.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run polls until ctx is cancelled, then seals all open segments. A storage
// failure aborts the loop and is returned to the supervisor; any other error
// is logged and retried on the next tick.
func (s *Sampler) Run(ctx context.Context) error {
	// Run may be re-entered after a failure; the store is the only state
	// that survives, so drop any channel pointers from the previous run
	// before recovery seals their rows.
	s.reset()

	// Seal anything a previous unclean shutdown left dangling before
	// opening new segments.
	sealed, err := s.store.CloseOpenSegments(s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("recover open segments: %w", err)
	}
	if sealed > 0 {
		s.log.Info("sealed segments from unclean shutdown", "count", sealed)
	}

	if !s.caps.ForegroundApp {
		s.log.Warn("foreground detection unavailable, app channel stays empty", "detail", s.caps.Detail)
	}
	if !s.caps.InputIdle {
		s.log.Warn("input-idle detection unavailable, idle channel stays empty", "detail", s.caps.Detail)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.closeAll(s.now())

		case <-ticker.C:
			if err := s.tick(s.now()); err != nil {
				if errors.Is(err, store.ErrStorage) {
					return err
				}
				s.log.Warn("sampler tick failed", "error", err)
			}
		}
	}
}

// tick performs one poll cycle at the given instant.
func (s *Sampler) tick(now time.Time) error {
	s.mu.Lock()
	s.stats.Ticks++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeTimeout)
	sample, err := s.probe.Read(ctx)
	cancel()

	if err != nil {
		s.mu.Lock()
		s.stats.FailedTicks++
		s.mu.Unlock()

		s.failures++
		if s.failures < maxConsecutiveFailures {
			// Transient read failure; skip this tick and retry.
			return nil
		}
		// The probe keeps failing: the foreground channel degrades to an
		// explicit unknown label instead of silently stalling.
		s.log.Warn("probe degraded after consecutive failures", "failures", s.failures, "error", err)
		if s.opts.TrackApplications && s.caps.ForegroundApp {
			if err := s.observe(s.app, labelUnknown, now); err != nil {
				return err
			}
		}
		return s.observe(s.web, "", now)
	}
	s.failures = 0

	wantIdle := s.caps.InputIdle && sample.IdleFor >= s.opts.IdleThreshold

	if wantIdle {
		if !s.idle {
			// Idleness is declared now, so the active segments close at the
			// detection time, not at the moment input last occurred.
			if err := s.closeChannel(s.app, now); err != nil {
				return err
			}
			if err := s.closeChannel(s.web, now); err != nil {
				return err
			}
			s.idle = true
		}
		return s.observe(s.idleCh, labelIdle, now)
	}

	if s.idle {
		if err := s.closeChannel(s.idleCh, now); err != nil {
			return err
		}
		s.idle = false
	}

	if s.opts.TrackApplications && s.caps.ForegroundApp {
		if err := s.observe(s.app, sample.App, now); err != nil {
			return err
		}
	}

	if s.opts.TrackWebsites && s.caps.ForegroundApp {
		domain := ExtractDomain(sample.WindowTitle, sample.App)
		if err := s.observe(s.web, domain, now); err != nil {
			return err
		}
	}

	return nil
}

// observe advances one channel: an empty label closes any open segment, a
// changed label closes the old segment and opens a new one at the same
// instant, and an unchanged label heartbeats the open segment so the store
// always knows the last-alive timestamp.
func (s *Sampler) observe(ch *channel, label string, now time.Time) error {
	nowNs := now.UnixNano()

	if label == "" {
		return s.closeChannel(ch, now)
	}

	if ch.open != nil && ch.open.Label == label {
		ch.open.EndNs = &nowNs
		if err := s.store.AppendActivity(ch.open); err != nil {
			return fmt.Errorf("heartbeat %s segment: %w", ch.kind, err)
		}
		return nil
	}

	if err := s.closeChannel(ch, now); err != nil {
		return err
	}

	seg := &store.ActivitySegment{
		Kind:    ch.kind,
		Label:   label,
		StartNs: nowNs,
		EndNs:   &nowNs,
	}
	if err := s.store.AppendActivity(seg); err != nil {
		return fmt.Errorf("open %s segment: %w", ch.kind, err)
	}
	ch.open = seg

	s.mu.Lock()
	s.stats.SegmentsOpened++
	s.mu.Unlock()
	return nil
}

// closeChannel seals the channel's open segment, if any.
func (s *Sampler) closeChannel(ch *channel, now time.Time) error {
	if ch.open == nil {
		return nil
	}

	err := s.store.CloseSegment(ch.open.ID, now.UnixNano())
	ch.open = nil
	if err != nil {
		if errors.Is(err, store.ErrStorage) {
			return err
		}
		// Already sealed (e.g. by recovery); nothing left to do.
		s.log.Debug("close segment skipped", "error", err)
	}
	return nil
}

// closeAll seals every open channel; called on shutdown.
func (s *Sampler) closeAll(now time.Time) error {
	var errs []error
	for _, ch := range []*channel{s.app, s.web, s.idleCh} {
		if err := s.closeChannel(ch, now); err != nil {
			errs = append(errs, err)
		}
	}
	s.idle = false
	return errors.Join(errs...)
}

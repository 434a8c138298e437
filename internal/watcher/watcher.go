package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"daylogd/internal/store"
)

// Options configures a Watcher.
type Options struct {
	Roots             []string
	IncludeExtensions []string
	IgnoreDirs        []string
	Debounce          time.Duration
	MaxFileSize       int64
}

// Stats is a point-in-time snapshot of watcher activity.
type Stats struct {
	Emitted    int64
	Suppressed int64
}

// pendingChange is a path whose debounce window is still open.
type pendingChange struct {
	timer *time.Timer
}

// Watcher turns raw filesystem events into durable change records. Events
// are filtered against the configured roots, coalesced per path over the
// debounce window, then hashed and diffed against the last seen content
// before being appended to the store.
type Watcher struct {
	store *store.Store
	log   *slog.Logger
	opts  Options

	fsw   *fsnotify.Watcher
	roots []string
	exts  map[string]struct{}

	mu      sync.Mutex
	pending map[string]*pendingChange
	ready   chan string
	firing  atomic.Int64

	// caches last committed state per absolute path; only touched from
	// the Run loop once watching starts.
	lastHash    map[string]string
	lastContent map[string][]byte

	emitted    atomic.Int64
	suppressed atomic.Int64
}

// New validates the configured roots and seeds the content cache so the
// first change to a pre-existing file diffs against the state found at
// startup. Unreadable roots are logged and skipped; New fails only when
// no root can be watched at all. The fs watcher itself is created by Run
// so that a restarted Run starts from a fresh subscription.
func New(st *store.Store, opts Options, log *slog.Logger) (*Watcher, error) {
	w := &Watcher{
		store:       st,
		log:         log,
		opts:        opts,
		exts:        make(map[string]struct{}, len(opts.IncludeExtensions)),
		pending:     make(map[string]*pendingChange),
		ready:       make(chan string, 256),
		lastHash:    make(map[string]string),
		lastContent: make(map[string][]byte),
	}
	for _, ext := range opts.IncludeExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.exts[strings.ToLower(ext)] = struct{}{}
	}

	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			log.Warn("skipping root", "root", root, "error", err)
			continue
		}
		// The root must be in w.roots before seeding: track() resolves
		// paths against it.
		w.roots = append(w.roots, abs)
		if err := w.seedTree(abs); err != nil {
			w.roots = w.roots[:len(w.roots)-1]
			log.Warn("skipping unreadable root", "root", abs, "error", err)
		}
	}
	if len(w.roots) == 0 {
		return nil, errors.New("no watchable roots")
	}
	return w, nil
}

// seedTree caches the current hash and content of every tracked file
// under root.
func (w *Watcher) seedTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.log.Debug("walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != root && w.ignoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, _, ok := w.track(path); !ok {
			return nil
		}
		snap, err := readSnapshot(path, w.opts.MaxFileSize)
		if err != nil {
			w.log.Debug("seed read", "path", path, "error", err)
			return nil
		}
		w.lastHash[path] = snap.hash
		if snap.content != nil {
			w.lastContent[path] = snap.content
		}
		return nil
	})
}

// watchTree registers root and every non-ignored subdirectory with the
// fs watcher.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.log.Debug("walk error", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignoredDir(name string) bool {
	for _, ig := range w.opts.IgnoreDirs {
		if name == ig {
			return true
		}
	}
	return false
}

// track decides whether an absolute path belongs to the capture set and
// resolves it to its root and root-relative path.
func (w *Watcher) track(path string) (root, rel string, ok bool) {
	// Never record the store's own files; WAL mode writes brazenly
	// next to the database.
	if dbPath := w.store.Path(); dbPath != "" && strings.HasPrefix(path, dbPath) {
		return "", "", false
	}
	if _, match := w.exts[strings.ToLower(filepath.Ext(path))]; !match {
		return "", "", false
	}
	for _, r := range w.roots {
		relPath, err := filepath.Rel(r, path)
		if err != nil || relPath == "." || strings.HasPrefix(relPath, "..") {
			continue
		}
		for _, part := range strings.Split(filepath.Dir(relPath), string(filepath.Separator)) {
			if part != "." && w.ignoredDir(part) {
				return "", "", false
			}
		}
		return r, filepath.ToSlash(relPath), true
	}
	return "", "", false
}

// Run subscribes to filesystem events and processes them until ctx is
// cancelled. It returns nil on cancellation and a wrapped store.ErrStorage
// when the store rejects an append. Each call builds its own fs watcher,
// so the supervisor can restart Run after a failure.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	for _, root := range w.roots {
		if err := w.watchTree(root); err != nil {
			w.log.Warn("watch root", "root", root, "error", err)
		}
	}
	w.log.Info("watcher started", "roots", w.roots, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			return w.Flush()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fs watcher error", "error", err)

		case path := <-w.ready:
			if err := w.settle(path); err != nil {
				return err
			}
		}
	}
}

// handleEvent classifies a raw event and arms or re-arms the path's
// debounce timer. Directory creations extend the watch tree instead.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !w.ignoredDir(filepath.Base(path)) {
				if err := w.watchTree(path); err != nil {
					w.log.Warn("watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}

	// Rename delivers only the old name; the destination arrives as an
	// independent Create, so a move degrades to delete plus create.
	if _, _, ok := w.track(path); !ok {
		return
	}
	w.arm(path)
}

func (w *Watcher) arm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Reset(w.opts.Debounce)
		return
	}
	p := &pendingChange{}
	p.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.firing.Add(1)
		defer w.firing.Add(-1)
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ready <- path
	})
	w.pending[path] = p
}

// settle resolves a quiesced path against the content cache and appends
// at most one change record for its debounce window. The state on disk
// at settle time, not the raw event kind, decides the change type.
func (w *Watcher) settle(path string) error {
	root, rel, ok := w.track(path)
	if !ok {
		return nil
	}

	snap, err := readSnapshot(path, w.opts.MaxFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return w.emitDeleted(root, rel, path)
		}
		// transient read failure; record the change without a diff
		w.log.Debug("read after settle", "path", path, "error", err)
		return w.emit(&store.ChangeRecord{
			Root:       root,
			FilePath:   rel,
			ChangeType: store.ChangeModified,
		}, path, snapshot{})
	}

	prevHash, known := w.lastHash[path]
	if !known {
		// Cache miss (file appeared in a directory created after the seed
		// scan, or the daemon restarted without a scan hit): fall back to
		// the last hash the store recorded for this path.
		if stored, err := w.store.LastContentHash(root, rel); err == nil && stored != "" {
			prevHash, known = stored, true
		}
	}
	if known && prevHash == snap.hash {
		w.lastHash[path] = snap.hash
		if snap.content != nil {
			w.lastContent[path] = snap.content
		}
		w.suppressed.Add(1)
		return nil
	}

	rec := &store.ChangeRecord{
		Root:        root,
		FilePath:    rel,
		ChangeType:  store.ChangeModified,
		ContentHash: snap.hash,
		FileSize:    snap.size,
	}
	if !known {
		rec.ChangeType = store.ChangeCreated
	}
	if snap.content != nil {
		diff, err := unifiedDiff(w.lastContent[path], snap.content, rel)
		if err != nil {
			w.log.Warn("diff failed", "path", rel, "error", err)
		} else {
			rec.Diff = diff
		}
	}
	return w.emit(rec, path, snap)
}

func (w *Watcher) emitDeleted(root, rel, path string) error {
	if _, known := w.lastHash[path]; !known {
		return nil
	}
	rec := &store.ChangeRecord{
		Root:       root,
		FilePath:   rel,
		ChangeType: store.ChangeDeleted,
	}
	if old := w.lastContent[path]; old != nil {
		diff, err := unifiedDiff(old, nil, rel)
		if err == nil {
			rec.Diff = diff
		}
	}
	delete(w.lastHash, path)
	delete(w.lastContent, path)
	return w.emit(rec, path, snapshot{})
}

func (w *Watcher) emit(rec *store.ChangeRecord, path string, snap snapshot) error {
	rec.TimestampNs = time.Now().UnixNano()

	inserted, err := w.store.AppendChange(rec)
	if err != nil {
		if errors.Is(err, store.ErrStorage) {
			return fmt.Errorf("append change: %w", err)
		}
		w.log.Error("append change", "path", rec.FilePath, "error", err)
		return nil
	}
	if !inserted {
		w.suppressed.Add(1)
		return nil
	}
	w.emitted.Add(1)

	if rec.ChangeType != store.ChangeDeleted && snap.hash != "" {
		w.lastHash[path] = snap.hash
		if snap.content != nil {
			w.lastContent[path] = snap.content
		} else {
			delete(w.lastContent, path)
		}
	}
	w.log.Debug("change recorded",
		"type", rec.ChangeType, "path", rec.FilePath, "size", rec.FileSize)
	return nil
}

// Flush settles every pending path immediately, bypassing the remainder
// of its debounce window. Used on shutdown so in-flight edits are not
// lost, and by tests to avoid real timers.
func (w *Watcher) Flush() error {
	w.mu.Lock()
	var paths []string
	inFlight := 0
	for path, p := range w.pending {
		if p.timer.Stop() {
			// Timer disarmed before its callback ran; settle here.
			paths = append(paths, path)
		} else {
			// The callback is running (or queued) and will deliver the
			// path to ready; receive it below instead of settling twice.
			inFlight++
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for i := 0; i < inFlight; i++ {
		paths = append(paths, <-w.ready)
	}

	// Callbacks that already removed their pending entry but have not
	// finished the send yet are tracked by the firing counter.
	for w.firing.Load() > 0 {
		select {
		case path := <-w.ready:
			paths = append(paths, path)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	for {
		select {
		case path := <-w.ready:
			paths = append(paths, path)
			continue
		default:
		}
		break
	}

	var errs []error
	for _, path := range paths {
		if err := w.settle(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats reports lifetime counters for the status surface.
func (w *Watcher) Stats() Stats {
	return Stats{
		Emitted:    w.emitted.Load(),
		Suppressed: w.suppressed.Load(),
	}
}

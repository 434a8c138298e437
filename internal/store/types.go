// Package store provides SQLite-based event storage for daylogd.
package store

// SegmentKind identifies the logical channel an activity segment belongs to.
type SegmentKind string

const (
	// KindAppFocus tracks the foreground application.
	KindAppFocus SegmentKind = "app_focus"
	// KindWebsite tracks the active browser domain.
	KindWebsite SegmentKind = "website"
	// KindIdle tracks periods without user input.
	KindIdle SegmentKind = "idle"
	// KindSystem tracks daemon lifecycle markers (session_start, session_end).
	KindSystem SegmentKind = "system_event"
)

// ActivitySegment is one continuous interval of a single state on a channel.
//
// While a segment is open, EndNs is advanced on every sampler heartbeat and
// Closed stays false. Closing freezes EndNs; closed segments are immutable.
type ActivitySegment struct {
	ID      int64
	Kind    SegmentKind
	Label   string
	StartNs int64
	EndNs   *int64
	Closed  bool
}

// Open reports whether the segment is still accumulating time.
func (s *ActivitySegment) Open() bool {
	return !s.Closed
}

// ChangeType classifies a change record.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// ChangeRecord captures one settled mutation of a watched file.
type ChangeRecord struct {
	ID          int64
	TimestampNs int64
	Root        string
	FilePath    string // relative to Root
	OldPath     string // previous path for renames, empty otherwise
	ChangeType  ChangeType
	Diff        string // unified diff; empty for binary content and for deletes without cached content
	ContentHash string // hex BLAKE2b-256 of the new content, empty for deletes
	FileSize    int64
}

// Counts aggregates stored event totals for the status command.
type Counts struct {
	ActivitySegments int64
	OpenSegments     int64
	ChangeRecords    int64
}

// DayStats summarizes one day of captured activity for the status command.
type DayStats struct {
	Applications  int64
	Domains       int64
	FilesChanged  int64
	ActiveSeconds int64
}

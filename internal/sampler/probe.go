// Package sampler polls workstation state and records activity segments.
package sampler

import (
	"context"
	"time"
)

// Sample is one reading of workstation state.
type Sample struct {
	// App is the foreground application name, empty when unknown.
	App string

	// WindowTitle is the foreground window title, used for browser-domain
	// extraction. May be empty.
	WindowTitle string

	// IdleFor is the time since the last user input.
	IdleFor time.Duration
}

// Capabilities reports which readings a probe can provide on this platform.
// A missing capability degrades the corresponding channel to empty output;
// it is not an error.
type Capabilities struct {
	ForegroundApp bool
	InputIdle     bool

	// Detail describes the detection backends in use, for startup logging.
	Detail string
}

// Probe reads platform state. Implementations live behind build tags; the
// null probe reports no capabilities.
type Probe interface {
	// Capabilities is called once at startup.
	Capabilities() Capabilities

	// Read returns the current sample. Calls are bounded by ctx; a slow or
	// failed read is retried on the next tick.
	Read(ctx context.Context) (Sample, error)
}

//go:build !linux

package sampler

import (
	"context"
	"runtime"
)

// nullProbe reports no capabilities; every channel degrades to empty output.
type nullProbe struct{}

// NewProbe returns the null probe on platforms without a detection backend.
func NewProbe() Probe {
	return nullProbe{}
}

func (nullProbe) Capabilities() Capabilities {
	return Capabilities{Detail: "no probe backend on " + runtime.GOOS}
}

func (nullProbe) Read(ctx context.Context) (Sample, error) {
	return Sample{}, nil
}

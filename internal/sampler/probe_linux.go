//go:build linux

package sampler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/shirou/gopsutil/v3/process"
)

// linuxProbe reads workstation state on Linux. Input-idle time comes from
// the session bus (Mutter's idle monitor, falling back to the freedesktop
// screensaver interface); the foreground window comes from xprop via the
// EWMH _NET_ACTIVE_WINDOW property, with gopsutil resolving the owning
// process name.
type linuxProbe struct {
	conn *dbus.Conn

	hasIdle      bool
	idleViaGnome bool
	hasXprop     bool
	detail       string
}

// NewProbe detects the available capabilities and returns the platform probe.
func NewProbe() Probe {
	p := &linuxProbe{}
	var details []string

	if conn, err := dbus.SessionBus(); err == nil {
		p.conn = conn
		if _, err := p.gnomeIdleTime(context.Background()); err == nil {
			p.hasIdle = true
			p.idleViaGnome = true
			details = append(details, "idle via Mutter IdleMonitor")
		} else if _, err := p.screensaverIdleTime(context.Background()); err == nil {
			p.hasIdle = true
			details = append(details, "idle via org.freedesktop.ScreenSaver")
		}
	}
	if !p.hasIdle {
		details = append(details, "no idle source on session bus")
	}

	if os.Getenv("DISPLAY") != "" {
		if _, err := exec.LookPath("xprop"); err == nil {
			p.hasXprop = true
			details = append(details, "foreground via xprop")
		}
	}
	if !p.hasXprop {
		details = append(details, "no X11 foreground source")
	}

	p.detail = strings.Join(details, ", ")
	return p
}

func (p *linuxProbe) Capabilities() Capabilities {
	return Capabilities{
		ForegroundApp: p.hasXprop,
		InputIdle:     p.hasIdle,
		Detail:        p.detail,
	}
}

func (p *linuxProbe) Read(ctx context.Context) (Sample, error) {
	var sample Sample

	if p.hasIdle {
		idle, err := p.idleTime(ctx)
		if err != nil {
			return sample, fmt.Errorf("read idle time: %w", err)
		}
		sample.IdleFor = idle
	}

	if p.hasXprop {
		app, title, err := p.foreground(ctx)
		if err != nil {
			return sample, fmt.Errorf("read foreground window: %w", err)
		}
		sample.App = app
		sample.WindowTitle = title
	}

	return sample, nil
}

func (p *linuxProbe) idleTime(ctx context.Context) (time.Duration, error) {
	if p.idleViaGnome {
		return p.gnomeIdleTime(ctx)
	}
	return p.screensaverIdleTime(ctx)
}

func (p *linuxProbe) gnomeIdleTime(ctx context.Context) (time.Duration, error) {
	obj := p.conn.Object("org.gnome.Mutter.IdleMonitor", "/org/gnome/Mutter/IdleMonitor/Core")
	var idleMs uint64
	call := obj.CallWithContext(ctx, "org.gnome.Mutter.IdleMonitor.GetIdletime", 0)
	if call.Err != nil {
		return 0, call.Err
	}
	if err := call.Store(&idleMs); err != nil {
		return 0, err
	}
	return time.Duration(idleMs) * time.Millisecond, nil
}

func (p *linuxProbe) screensaverIdleTime(ctx context.Context) (time.Duration, error) {
	obj := p.conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	var idleSec uint32
	call := obj.CallWithContext(ctx, "org.freedesktop.ScreenSaver.GetSessionIdleTime", 0)
	if call.Err != nil {
		return 0, call.Err
	}
	if err := call.Store(&idleSec); err != nil {
		return 0, err
	}
	return time.Duration(idleSec) * time.Second, nil
}

var activeWindowRe = regexp.MustCompile(`window id # (0x[0-9a-fA-F]+)`)
var wmPIDRe = regexp.MustCompile(`_NET_WM_PID\(CARDINAL\) = (\d+)`)
var wmNameRe = regexp.MustCompile(`_NET_WM_NAME\(UTF8_STRING\) = "(.*)"`)

// foreground resolves the active window's process name and title.
func (p *linuxProbe) foreground(ctx context.Context) (app, title string, err error) {
	out, err := exec.CommandContext(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW").Output()
	if err != nil {
		return "", "", fmt.Errorf("xprop root: %w", err)
	}

	match := activeWindowRe.FindStringSubmatch(string(out))
	if match == nil || match[1] == "0x0" {
		// No focused window (empty desktop); not an error.
		return "", "", nil
	}
	windowID := match[1]

	out, err = exec.CommandContext(ctx, "xprop", "-id", windowID, "_NET_WM_PID", "_NET_WM_NAME").Output()
	if err != nil {
		return "", "", fmt.Errorf("xprop window %s: %w", windowID, err)
	}
	props := string(out)

	if m := wmNameRe.FindStringSubmatch(props); m != nil {
		title = m[1]
	}

	if m := wmPIDRe.FindStringSubmatch(props); m != nil {
		pid, convErr := strconv.ParseInt(m[1], 10, 32)
		if convErr == nil {
			proc, procErr := process.NewProcessWithContext(ctx, int32(pid))
			if procErr == nil {
				if name, nameErr := proc.NameWithContext(ctx); nameErr == nil {
					app = name
				}
			}
		}
	}

	return app, title, nil
}

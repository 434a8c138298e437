// daylogd - Workstation activity capture daemon
//
//	daylogd run       Run the capture daemon in the foreground
//	daylogd status    Show daemon and store status
//	daylogd query     Print captured events for a time range
//	daylogd stop      Signal a running daemon to stop
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"daylogd/internal/config"
	"daylogd/internal/logging"
	"daylogd/internal/store"
	"daylogd/internal/supervisor"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "query":
		cmdQuery()
	case "stop":
		cmdStop()
	case "version", "-v", "--version":
		fmt.Println("daylogd", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`daylogd - Workstation activity capture

USAGE:
    daylogd <command> [options]

COMMANDS:
    run       Run the capture daemon in the foreground
    status    Show daemon liveness and stored event counts
    query     Print captured events for a time range
    stop      Signal a running daemon to stop
    version   Print the version
    help      Show this help message

OPTIONS:
    run    --config <path>   Configuration file (TOML, JSON or YAML)
    query  --from <time>     Range start, RFC 3339 or YYYY-MM-DD (default: today)
           --to <time>       Range end (default: now)
           --config <path>   Configuration file

Everything is recorded locally; nothing leaves the machine.`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "daylogd:", err)
	os.Exit(1)
}

// loadConfig reads the config file (or defaults when absent) and applies
// environment overrides.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	return cfg
}

func newLogger(cfg *config.Config) *logging.Logger {
	logCfg := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logCfg.Level = lvl
	}
	if format, err := logging.ParseFormat(cfg.Logging.Format); err == nil {
		logCfg.Format = format
	}
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		fatal(fmt.Errorf("init logging: %w", err))
	}
	return logger
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}

	// The loader keeps watching the file; edits are picked up on the
	// next restart, which the log line below makes discoverable.
	loader, err := config.NewLoader(path)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	defer loader.Close()
	cfg := loader.Config()

	logger := newLogger(cfg)
	defer logger.Close()
	log := logger.WithComponent("supervisor")

	loader.OnChange(func(*config.Config) {
		log.Info("configuration changed on disk; restart to apply")
	})

	mgr := supervisor.NewDaemonManager(supervisor.DefaultRunDir())
	if mgr.IsRunning() {
		pid, _ := mgr.ReadPID()
		fatal(fmt.Errorf("already running (pid %d)", pid))
	}
	if err := mgr.WritePID(); err != nil {
		fatal(fmt.Errorf("write pid file: %w", err))
	}
	defer mgr.Cleanup()

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		fatal(err)
	}
	defer sup.Close()

	if err := mgr.WriteState(&supervisor.DaemonState{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Version:   version,
		DBPath:    cfg.Storage.Path,
	}); err != nil {
		log.Warn("write state file", "error", err)
	}

	sup.OnStateChange(func(states map[string]supervisor.SubsystemState) {
		snapshot := make(map[string]string, len(states))
		for name, state := range states {
			snapshot[name] = string(state)
		}
		if err := mgr.UpdateSubsystems(snapshot); err != nil {
			log.Warn("update state file", "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("daylogd started", "version", version, "db", cfg.Storage.Path, "roots", cfg.Watch.Roots)
	if err := sup.Run(ctx); err != nil {
		fatal(err)
	}
	log.Info("daylogd stopped")
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	mgr := supervisor.NewDaemonManager(supervisor.DefaultRunDir())
	ds := mgr.Status()
	if ds.Running {
		fmt.Printf("daemon:   running (pid %d, up %s)\n", ds.PID, ds.Uptime.Round(time.Second))
	} else {
		fmt.Println("daemon:   not running")
	}
	if ds.DBPath != "" {
		fmt.Printf("database: %s\n", ds.DBPath)
	} else {
		fmt.Printf("database: %s\n", cfg.Storage.Path)
	}
	if ds.Running && len(ds.Subsystems) > 0 {
		names := make([]string, 0, len(ds.Subsystems))
		for name := range ds.Subsystems {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-8s%s\n", name+":", ds.Subsystems[name])
		}
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fatal(fmt.Errorf("open store: %w", err))
	}
	defer st.Close()

	counts, err := st.Counts()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("events:   %d activity segments (%d open), %d file changes\n",
		counts.ActivitySegments, counts.OpenSegments, counts.ChangeRecords)

	dayStart := startOfDay(time.Now())
	stats, err := st.StatsForRange(dayStart.UnixNano(), time.Now().UnixNano())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("today:    %d apps, %d domains, %d files changed, %s active\n",
		stats.Applications, stats.Domains, stats.FilesChanged,
		(time.Duration(stats.ActiveSeconds) * time.Second))

	recent, err := st.LatestChanges(5)
	if err != nil {
		fatal(err)
	}
	if len(recent) > 0 {
		fmt.Println("recent changes:")
		for _, rec := range recent {
			fmt.Printf("  %s  %-8s  %s\n",
				time.Unix(0, rec.TimestampNs).Format("15:04:05"), rec.ChangeType, rec.FilePath)
		}
	}
}

func cmdQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	fromArg := fs.String("from", "", "range start (RFC 3339 or YYYY-MM-DD, default today)")
	toArg := fs.String("to", "", "range end (default now)")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	from := startOfDay(time.Now())
	if *fromArg != "" {
		var err error
		if from, err = parseTime(*fromArg); err != nil {
			fatal(fmt.Errorf("parse --from: %w", err))
		}
	}
	to := time.Now()
	if *toArg != "" {
		var err error
		if to, err = parseTime(*toArg); err != nil {
			fatal(fmt.Errorf("parse --to: %w", err))
		}
	}
	if !to.After(from) {
		fatal(fmt.Errorf("--to %s is not after --from %s", to.Format(time.RFC3339), from.Format(time.RFC3339)))
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fatal(fmt.Errorf("open store: %w", err))
	}
	defer st.Close()

	segments, changes, err := st.QueryRange(from.UnixNano(), to.UnixNano())
	if err != nil {
		fatal(err)
	}

	fmt.Printf("activity segments (%d):\n", len(segments))
	for _, seg := range segments {
		end := "open"
		if seg.EndNs != nil {
			end = time.Unix(0, *seg.EndNs).Format("15:04:05")
		}
		fmt.Printf("  %s - %-8s  %-12s  %s\n",
			time.Unix(0, seg.StartNs).Format("15:04:05"), end, seg.Kind, seg.Label)
	}

	fmt.Printf("file changes (%d):\n", len(changes))
	for _, rec := range changes {
		fmt.Printf("  %s  %-8s  %s (%d bytes)\n",
			time.Unix(0, rec.TimestampNs).Format("15:04:05"), rec.ChangeType, rec.FilePath, rec.FileSize)
	}
}

func cmdStop() {
	mgr := supervisor.NewDaemonManager(supervisor.DefaultRunDir())
	if !mgr.IsRunning() {
		fmt.Println("daemon is not running")
		return
	}
	if err := mgr.SignalStop(); err != nil {
		fatal(fmt.Errorf("signal daemon: %w", err))
	}
	if err := mgr.WaitForStop(10 * time.Second); err != nil {
		fatal(err)
	}
	fmt.Println("daemon stopped")
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

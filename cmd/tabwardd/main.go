// tabwardd is the browser time tracking and limit enforcement daemon.
//
// The extension bridge connects over a Unix socket and streams tab, window
// focus, and idle events. The daemon turns those into per-domain usage
// records, warns as configured limits approach, and redirects the active
// tab to the block page when a limit is exhausted. tabwardctl talks to the
// same socket for status, limits, and snooze control.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"tabward/internal/classify"
	"tabward/internal/commit"
	"tabward/internal/config"
	"tabward/internal/enforce"
	"tabward/internal/health"
	"tabward/internal/ipc"
	"tabward/internal/logging"
	"tabward/internal/metrics"
	"tabward/internal/notify"
	"tabward/internal/session"
	"tabward/internal/store"
)

const version = "0.3.1"

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tabwardd %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tabwardd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logging.SetDefault(log)
	log.Info("tabwardd starting", "version", version)

	if err := writePidFile(cfg.Daemon.PidFile); err != nil {
		return err
	}
	defer os.Remove(cfg.Daemon.PidFile)

	st, err := store.OpenWithTimeout(cfg.Storage.Path, cfg.Storage.BusyTimeoutMs)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	classifier := classify.New(st, log)
	classifier.SetBatchDelay(cfg.Categories.BatchDelay())
	if err := classifier.LoadOverrides(cfg.Categories.OverridesPath); err != nil {
		log.Warn("category overrides unavailable", "path", cfg.Categories.OverridesPath, "error", err)
	}
	stopWatch, err := classifier.WatchOverrides(cfg.Categories.OverridesPath)
	if err != nil {
		log.Warn("category override watching disabled", "error", err)
		stopWatch = func() error { return nil }
	}
	defer stopWatch()

	state := session.NewState()

	socketMode, err := cfg.IPC.SocketMode()
	if err != nil {
		return fmt.Errorf("socket permissions: %w", err)
	}

	// The committer's post-commit hook re-evaluates limits, and the
	// evaluator force-flushes through the committer before a fast-path
	// block. Declare the evaluator first so both closures resolve.
	var evaluator *enforce.Evaluator

	committer := commit.New(commit.Options{
		State:         state,
		Store:         st,
		Log:           log,
		OnCommit:      func(d string) { evaluator.Evaluate(d) },
		WriteDebounce: cfg.Tracking.CommitDebounce(),
		Heartbeat:     cfg.Tracking.Heartbeat(),
	})

	ipcQuit := make(chan struct{})
	var ipcQuitOnce sync.Once

	handler := ipc.NewDaemonHandler(ipc.HandlerOptions{
		Version: version,
		State:   state,
		Store:   st,
		Flusher: committer,
		OnShutdown: func() {
			ipcQuitOnce.Do(func() { close(ipcQuit) })
		},
		Log: log,
	})
	server := ipc.NewServer(ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		SocketMode:     os.FileMode(socketMode),
		Version:        version,
		MaxConnections: cfg.IPC.MaxConnections,
		Timeout:        cfg.IPC.Timeout(),
	}, handler, log)
	handler.SetServer(server)

	bridge := ipc.NewBridgeController(server)

	notifier := notify.Best()
	if _, headless := notifier.(notify.Nop); headless {
		// No session bus; deliver warnings through the browser instead.
		notifier = bridge
	}
	defer notifier.Close()

	evaluator = enforce.New(enforce.Options{
		State:          state,
		Store:          st,
		Controller:     bridge,
		Notifier:       notifier,
		Categories:     classifier,
		Log:            log,
		ForceFlush:     committer.ForceFlush,
		Pending:        committer.PendingSeconds,
		BlockPage:      cfg.Enforcement.BlockPagePath,
		SnoozeBuffer:   cfg.Enforcement.SnoozeBuffer(),
		FastCheckEvery: cfg.Enforcement.FastCheckEvery(),
	})

	tracker := session.NewTracker(session.TrackerOptions{
		State:      state,
		Controller: bridge,
		Flusher:    committer,
		Evaluator:  evaluator,
		Enqueuer:   classifier,
		Log:        log,
	})
	handler.SetSink(tracker)

	checker := health.NewChecker()
	checker.RegisterFunc("database", true, health.DatabaseCheck(st.Ping))
	checker.RegisterFunc("bridge", false, health.BridgeCheck(server.BridgeConnected))
	// Hangs (and so trips the check timeout) if the state mutex is wedged.
	checker.RegisterFunc("session-state", true, health.CustomCheck(func() error {
		_ = state.Snapshot()
		return nil
	}))

	if err := server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	tracker.Start()
	committer.StartHeartbeat()
	evaluator.StartFastCheck()
	checker.SetReady(true)
	log.Info("tabwardd ready", "socket", server.SocketPath())

	healthQuit := make(chan struct{})
	go watchHealth(checker, log, healthQuit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case <-ipcQuit:
		log.Info("shutting down", "reason", "control client request")
	}

	close(healthQuit)
	checker.SetReady(false)
	tracker.Stop()
	evaluator.Stop()
	committer.Stop()
	classifier.Flush()
	if err := server.Stop(); err != nil {
		log.Warn("ipc shutdown failed", "error", err)
	}

	log.Info("tabwardd stopped", "counters", metrics.Default().Snapshot())
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(&logging.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Component:  "tabwardd",
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return log, nil
}

// writePidFile records our PID, refusing to start when another instance
// holds the file and is still alive.
func writePidFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid != os.Getpid() && processAlive(pid) {
			return fmt.Errorf("already running (pid %d)", pid)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// watchHealth logs whenever the aggregate status leaves healthy.
func watchHealth(checker *health.Checker, log *logging.Logger, quit chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	last := health.StatusUnknown
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			checker.Check(ctx)
			cancel()

			status := checker.OverallStatus()
			if status == last {
				continue
			}
			last = status
			if status == health.StatusHealthy {
				log.Info("health recovered", "status", status)
			} else {
				log.Warn("health changed", "status", status, "results", checker.GetResults())
			}
		case <-quit:
			return
		}
	}
}

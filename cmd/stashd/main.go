package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/api"
	"github.com/stashhunt/stashd/pkg/collect"
	"github.com/stashhunt/stashd/pkg/config"
	"github.com/stashhunt/stashd/pkg/history"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/metrics"
	"github.com/stashhunt/stashd/pkg/mqtt"
	"github.com/stashhunt/stashd/pkg/pidfile"
	"github.com/stashhunt/stashd/pkg/position"
	"github.com/stashhunt/stashd/pkg/roads"
	"github.com/stashhunt/stashd/pkg/session"
	"github.com/stashhunt/stashd/pkg/spawn"
	"github.com/stashhunt/stashd/pkg/store"
)

var (
	configPath = flag.String("config", "/etc/stashd/stashd.yaml", "Path to configuration file")
	pidPath    = flag.String("pid-file", "/tmp/stashd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (equivalent to trace level)")
	force      = flag.Bool("force", false, "Force start by removing a stale PID file")
)

const (
	AppName    = "stashd"
	AppVersion = "1.0.0"
)

// HeartbeatData is the liveness record written to /tmp/stashd.health.
type HeartbeatData struct {
	Timestamp  string  `json:"ts"`
	UptimeS    int64   `json:"uptime_s"`
	Version    string  `json:"version"`
	Status     string  `json:"status"`
	Sessions   int     `json:"sessions"`
	Pending    int     `json:"pending"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	if *verbose {
		effectiveLogLevel = "trace"
	}

	logger := logx.NewLogger(effectiveLogLevel, "stashd")
	if cfg.LogFile != "" {
		if err := logger.SetOutput(cfg.LogFile); err != nil {
			logger.Warn("Failed to open log file, using stderr", "path", cfg.LogFile, "error", err.Error())
		}
	}

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err.Error())
		os.Exit(1)
	}
	if running {
		if !*force {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			os.Exit(1)
		}
		logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
		if err := os.Remove(*pidPath); err != nil {
			logger.Error("Failed to remove existing PID file", "error", err.Error())
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err.Error(), "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err.Error())
		}
	}()

	logger.Info("Starting stashd", "version", AppVersion, "pid", os.Getpid(), "config", *configPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("Daemon failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Local stores. The bolt cache doubles as offline fallback and
	// reconcile queue in both deployment modes.
	fallback, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "cache.db"), logger)
	if err != nil {
		return fmt.Errorf("failed to open local cache: %w", err)
	}
	defer fallback.Close()

	// Authoritative backend: this instance's SQLite database, or a remote
	// stashd when one is configured.
	var authoritative store.LedgerStore
	var sqlite *store.SQLiteStore
	if cfg.RemoteLedgerURL != "" {
		remote, err := store.NewHTTPStore(cfg.RemoteLedgerURL, cfg.RemoteAPIKey, logger)
		if err != nil {
			return fmt.Errorf("failed to create remote ledger client: %w", err)
		}
		authoritative = remote
		logger.Info("Using remote authoritative ledger", "url", cfg.RemoteLedgerURL)
	} else {
		sqlite, err = store.NewSQLiteStore(filepath.Join(cfg.DataDir, "ledger.db"), logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger database: %w", err)
		}
		defer sqlite.Close()
		authoritative = sqlite
		logger.Info("This instance is the authoritative ledger", "path", cfg.DataDir)
	}

	gen, err := spawn.NewGenerator(cfg.Spawn, time.Now().UnixNano(), logger)
	if err != nil {
		return fmt.Errorf("failed to create spawn generator: %w", err)
	}

	var snapper session.Snapper
	if cfg.RoadSnapEnabled {
		rs, err := roads.NewSnapper(cfg.Roads, logger)
		if err != nil {
			return fmt.Errorf("failed to create road snapper: %w", err)
		}
		snapper = rs
		logger.Info("Road snapping enabled")
	}

	commit := collect.NewCommitPolicy(authoritative, fallback, logger)
	sessions := session.NewManager(gen, authoritative, fallback, commit, snapper, logger)

	// Out-of-band position feeds (MQTT companion apps carry their own
	// timestamps) go through the broker so out-of-order fixes are dropped
	// before they reach a session.
	positions := position.NewBroker(logger)
	positions.Attach(func(pctx context.Context, userID string, fix *pkg.Fix) {
		sess, err := sessions.Get(pctx, userID)
		if err != nil {
			logger.Warn("Failed to resolve session for fix", "user_id", userID, "error", err.Error())
			return
		}
		if _, err := sess.UpdateFix(pctx, fix); err != nil {
			logger.Debug("Discarding fix", "user_id", userID, "error", err.Error())
		}
	})

	// MQTT: outbound game events and ledger updates, inbound position
	// fixes from companion apps.
	mqttClient := mqtt.NewClient(cfg.MQTT, logger)
	mqttClient.SetPositionHandler(func(userID string, fix *pkg.Fix) {
		if err := positions.Publish(ctx, userID, fix); err != nil && !errors.Is(err, position.ErrStaleFix) {
			logger.Debug("Rejected MQTT fix", "user_id", userID, "error", err.Error())
		}
	})
	if err := mqttClient.Connect(); err != nil {
		// The game runs fine without a broker.
		logger.Warn("MQTT connect failed, continuing without broker", "error", err.Error())
	}
	defer mqttClient.Disconnect()

	eventHistory, err := history.NewStore(4096, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to create event history: %w", err)
	}

	sessions.SetEventCallback(func(ev pkg.Event) {
		eventHistory.Add(ev)
		if err := mqttClient.PublishEvent(ev); err != nil {
			logger.Debug("Failed to publish event", "type", ev.Type, "error", err.Error())
		}
		if ev.Type == pkg.EventCollected {
			if sess, err := sessions.Get(ctx, ev.UserID); err == nil {
				if err := mqttClient.PublishLedger(sess.Snapshot()); err != nil {
					logger.Debug("Failed to publish ledger", "error", err.Error())
				}
			}
		}
	})

	apiServer := api.NewServer(cfg.ListenAddr, cfg.APIKey, sessions, sqliteOrNil(sqlite), commit, eventHistory, logger)
	apiServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("API shutdown failed", "error", err.Error())
		}
	}()

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, logger)
		metricsServer.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Error("Metrics shutdown failed", "error", err.Error())
			}
		}()
	}

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	evictTicker := time.NewTicker(5 * time.Minute)
	healthTicker := time.NewTicker(30 * time.Second)
	defer reconcileTicker.Stop()
	defer evictTicker.Stop()
	defer healthTicker.Stop()

	startTime := time.Now()
	logger.Info("stashd running", "listen", cfg.ListenAddr, "metrics", cfg.MetricsAddr)

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("Received SIGHUP, flushing pending collections")
				if _, err := commit.FlushPending(ctx); err != nil {
					logger.Warn("Flush failed", "error", err.Error())
				}
			default:
				logger.Info("Shutting down", "signal", sig.String())
				return nil
			}

		case <-reconcileTicker.C:
			flushed, err := commit.FlushPending(ctx)
			if err != nil {
				logger.Warn("Reconcile pass failed", "error", err.Error())
			}
			if flushed > 0 {
				ev := pkg.Event{
					Type:      pkg.EventReconciled,
					Timestamp: time.Now(),
					Data:      map[string]interface{}{"count": flushed},
				}
				eventHistory.Add(ev)
				mqttClient.PublishEvent(ev)
			}
			metrics.PendingReconcile.Set(float64(commit.PendingCount()))

		case <-evictTicker.C:
			for _, userID := range sessions.EvictIdle(cfg.SessionTTL) {
				positions.Forget(userID)
			}

		case <-healthTicker.C:
			writeHeartbeat(startTime, sessions.Count(), commit.PendingCount(), logger)
			mqttClient.PublishHealth(map[string]interface{}{
				"sessions": sessions.Count(),
				"pending":  commit.PendingCount(),
				"uptime_s": int64(time.Since(startTime).Seconds()),
			})
		}
	}
}

// sqliteOrNil keeps the API's authoritative endpoints disabled when this
// instance defers to a remote ledger.
func sqliteOrNil(s *store.SQLiteStore) store.LedgerStore {
	if s == nil {
		return nil
	}
	return s
}

// writeHeartbeat records daemon liveness for external watchdogs.
func writeHeartbeat(startTime time.Time, sessions, pending int, logger *logx.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hb := HeartbeatData{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		UptimeS:    int64(time.Since(startTime).Seconds()),
		Version:    AppVersion,
		Status:     "ok",
		Sessions:   sessions,
		Pending:    pending,
		MemMB:      float64(m.Alloc) / 1024.0 / 1024.0,
		Goroutines: runtime.NumGoroutine(),
	}

	data, err := json.Marshal(hb)
	if err != nil {
		return
	}
	if err := os.WriteFile("/tmp/stashd.health", data, 0o644); err != nil {
		logger.Debug("Failed to write heartbeat", "error", err.Error())
	}
}

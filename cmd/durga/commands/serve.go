package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/durgabridge/durga/pkg/durga/browser"
	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/config"
	"github.com/durgabridge/durga/pkg/durga/events"
	"github.com/durgabridge/durga/pkg/durga/poll"
	"github.com/durgabridge/durga/pkg/durga/server"
	"github.com/durgabridge/durga/pkg/durga/state"
	"github.com/durgabridge/durga/pkg/durga/suggest"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `durga serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with pollers and the HTTP API",
		Long: `Start Durga as a daemon: polls the gmail, whatsapp and forms
services for new items, queues events for approval, and serves the JSON API.

Examples:
  durga serve
  durga serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	// ── State: snapshot file plus the durable event archive ──
	var archive *state.Archive
	if cfg.State.ArchiveFile != "" {
		archive, err = state.OpenArchive(cfg.State.ArchiveFile, logger)
		if err != nil {
			logger.Warn("event archive unavailable, continuing without it", "error", err)
			archive = nil
		}
	}
	store := state.New(cfg.State.File, archive, logger)
	snap, err := store.Load()
	if err != nil {
		logger.Warn("state snapshot unreadable, starting fresh", "error", err)
		snap = &state.Snapshot{}
	}

	// ── Budget gate and event queue, seeded from the snapshot ──
	gate := budget.New(cfg.TokenTracking, logger)
	gate.Seed(snap.TokenUsage)

	queue := events.NewQueue(logger)
	queue.Seed(snap.EventQueue)

	persist := func() {
		if err := store.Persist(gate.Usage(), queue.Snapshot(state.SnapshotEventCap)); err != nil {
			logger.Error("failed to persist state", "error", err)
		}
	}
	gate.OnChange(persist)

	// ── Completion backend and suggester ──
	runner := suggest.NewCLIRunner(cfg.Completion, logger)
	suggester := suggest.New(runner, gate, logger)

	// ── Pollers ──
	manager := poll.New(buildUpstreams(cfg), queue, store, gate, suggester, persist, logger)
	manager.SetAutoProcess(cfg.AutoProcess.Enabled)
	manager.Start(cfg.Polling.Enabled)

	// ── Browser automation supervisor ──
	supervisor := browser.NewSupervisor(cfg.Browser, logger)

	// ── HTTP API ──
	srv := server.New(cfg.Server.Address, server.Deps{
		Queue:      queue,
		Gate:       gate,
		Store:      store,
		Manager:    manager,
		Runner:     runner,
		Supervisor: supervisor,
		Persist:    persist,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := srv.Start(ctx)

	logger.Info("durga running, press Ctrl+C to stop",
		"address", cfg.Server.Address,
		"polling", cfg.Polling.Enabled,
		"auto_process", cfg.AutoProcess.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			// Failing to bind the port is the only fatal server error.
			return fmt.Errorf("api server: %w", err)
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping", "signal", sig.String())
	}

	manager.Stop()
	persist()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}
	logger.Info("stopped")
	return nil
}

// buildUpstreams maps the polling config onto the three source pollers.
// The first fires are staggered so the daemon does not hammer every
// sibling service at once on startup.
func buildUpstreams(cfg *config.Config) []poll.Upstream {
	return []poll.Upstream{
		{
			Name:         "gmail",
			Type:         events.TypeNewEmail,
			URL:          cfg.Polling.Gmail.URL,
			ItemsField:   "emails",
			IDPrefix:     "gmail_",
			IDFields:     []string{"id", "message_id"},
			LimitParam:   "max_results",
			Limit:        5,
			Every:        cfg.Polling.Gmail.Every,
			InitialDelay: 5 * time.Second,
		},
		{
			Name:         "whatsapp",
			Type:         events.TypeNewWhatsApp,
			URL:          cfg.Polling.WhatsApp.URL,
			ItemsField:   "messages",
			IDPrefix:     "whatsapp_",
			IDFields:     []string{"id", "timestamp"},
			Limit:        5,
			Every:        cfg.Polling.WhatsApp.Every,
			InitialDelay: 10 * time.Second,
		},
		{
			Name:         "forms",
			Type:         events.TypeNewSubmission,
			URL:          cfg.Polling.Forms.URL,
			ItemsField:   "submissions",
			IDPrefix:     "form_",
			IDFields:     []string{"id"},
			Limit:        5,
			Every:        cfg.Polling.Forms.Every,
			InitialDelay: 15 * time.Second,
		},
	}
}

// newLogger builds the slog logger from flags and config.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads the config file named by --config, falls back to
// ./config.yaml, and finally to built-in defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		cfg, err := config.LoadFromFile("config.yaml")
		if err != nil {
			return nil, fmt.Errorf("loading config.yaml: %w", err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/api"
	"github.com/kioskctl/printwatch/internal/api/middleware"
	"github.com/kioskctl/printwatch/internal/archive"
	"github.com/kioskctl/printwatch/internal/config"
	"github.com/kioskctl/printwatch/internal/core"
	"github.com/kioskctl/printwatch/internal/db"
	"github.com/kioskctl/printwatch/internal/logging"
	"github.com/kioskctl/printwatch/internal/spooler"
	"github.com/kioskctl/printwatch/internal/webhook"
)

var (
	driverFlag   string
	printersFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start monitoring the print spooler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if driverFlag != "" {
			cfg.Spooler.Driver = driverFlag
		}
		if printersFlag != "" {
			cfg.Spooler.Printers = strings.Split(printersFlag, ",")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, log)
	},
}

func init() {
	runCmd.Flags().StringVar(&driverFlag, "driver", "", "spooler driver (windows, memory)")
	runCmd.Flags().StringVar(&printersFlag, "printers", "", "comma-separated printer queues to monitor (default: all)")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sp, err := spooler.New(cfg.Spooler.Driver, cfg.Spooler.Printers)
	if err != nil {
		return fmt.Errorf("failed to open spooler: %w", err)
	}

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer database.Close()

	var archiver *archive.Archiver
	if cfg.Database.ArchiveAfter > 0 {
		archiver, err = archive.NewArchiver(database.Outcomes(), archive.ArchiveConfig{
			ArchivePath: cfg.Database.ArchivePath,
			After:       cfg.Database.ArchiveAfter,
			Passphrase:  cfg.Database.ArchivePassphrase,
		}, log)
		if err != nil {
			return err
		}
	}

	var auth *middleware.AuthMiddleware
	if cfg.Server.Enabled {
		if auth, err = middleware.NewAuthMiddleware(cfg.Auth); err != nil {
			return err
		}
	}

	var notifier core.Notifier
	if len(cfg.Notifications.Endpoints) > 0 {
		sender := webhook.NewWebhookSender(webhook.WebhookConfig{
			Endpoints:   cfg.Notifications.Endpoints,
			Secret:      cfg.Notifications.Secret,
			RetryCount:  cfg.Notifications.RetryCount,
			RetryDelay:  cfg.Notifications.RetryDelay,
			Timeout:     cfg.Notifications.Timeout,
			WorkerCount: cfg.Notifications.WorkerCount,
			QueueSize:   cfg.Notifications.QueueSize,
		}, log)
		sender.Start()
		defer sender.Stop()
		notifier = sender
	}

	m := cfg.Monitor
	sessions := core.NewSessions()
	table := core.NewKnownJobs(m.SettledRetention)
	pricing := core.NewPricingResolver(database.Pricing(), cfg.Pricing.CacheTTL, log)

	orch := core.NewOrchestrator(core.Deps{
		Table:      table,
		Sessions:   sessions,
		Inspector:  core.NewInspector(sp, m.InspectSettle, m.InspectAttempts, log),
		Pricing:    pricing,
		Ledger:     core.NewBudgetLedger(database.Accounts(), cfg.Ledger.MaxAttempts, log),
		Controller: core.NewJobController(sp, notifier, log),
		Audit:      database.Outcomes(),
	}, core.OrchestratorConfig{
		StepTimeout:  m.StepTimeout,
		StaleTimeout: m.StaleTimeout,
	}, log)

	watcher := core.NewWatcher(sp, orch, core.WatcherConfig{
		PollInterval: m.PollInterval,
		Printers:     cfg.Spooler.Printers,
	}, log)
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	if archiver != nil {
		archiver.Start(ctx)
		defer archiver.Stop()
	}

	orchDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(orchDone)
	}()

	var server *api.Server
	var serverErr <-chan error
	if auth != nil {
		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Deps{
			Config:   cfg,
			Auth:     auth,
			Spooler:  sp,
			Table:    table,
			Sessions: sessions,
			Pricing:  pricing,
			DB:       database,
			Archiver: archiver,
			Version:  Version,
			Log:      log,
		})
		server = api.NewServer(cfg.Server, router, log)
		serverErr = server.Start()
	}

	log.Info("printwatch started",
		zap.String("version", Version),
		zap.String("spooler", cfg.Spooler.Driver),
		zap.Bool("admin_api", cfg.Server.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("admin API failed: %w", err)
		}
	}

	log.Info("shutting down")
	cancel()
	if server != nil {
		if err := server.Shutdown(context.Background()); err != nil {
			log.Warn("admin API shutdown", zap.Error(err))
		}
	}
	// The watcher may still deliver sightings while it drains; the
	// orchestrator refuses them once closed, and held jobs are still
	// driven to a terminal state before the database closes.
	watcher.Wait()
	<-orchDone
	orch.Close()
	orch.Wait()

	return runErr
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/rwclient/internal/config"
	"github.com/fentz26/rwclient/internal/content"
	"github.com/fentz26/rwclient/internal/controlplane"
	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/netwatch"
	"github.com/fentz26/rwclient/internal/queue"
	"github.com/fentz26/rwclient/internal/service"
	"github.com/fentz26/rwclient/internal/store"
	"github.com/fentz26/rwclient/internal/transport"
	"github.com/fentz26/rwclient/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr string
	dbDir      string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the rwclient daemon",
	Long: `Starts the daemon which owns the server session, the action queue and
the local HTTP API used by the other commands.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides api_listen)")
	daemonCmd.Flags().StringVar(&dbDir, "db-dir", "", "Directory for the database, queue and content (overrides storage_dir)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbDir != "" {
		cfg.StorageDir = dbDir
	}
	if listenAddr != "" {
		cfg.APIListen = listenAddr
	}

	logger := logrus.New()
	cfg.ConfigureLogger(logger)
	log := logger.WithField("component", "daemon")
	log.WithField("server", cfg.ServerURL).Info("starting rwclient daemon")

	probeInterval, err := cfg.ProbeDuration()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}

	// Initialize store
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection")
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("database close error")
		}
	}()

	deviceID := cfg.DeviceID
	if deviceID == "" {
		if deviceID, err = st.DeviceID(); err != nil {
			return err
		}
	}

	q, err := queue.Open(cfg.QueueDir(), logger)
	if err != nil {
		return err
	}
	defer q.Close()

	prober, err := netwatch.New(cfg.ServerURL, logger)
	if err != nil {
		return err
	}

	location := service.NewStaticLocation()
	if m := cfg.MockLocation; m != nil {
		location.Fix(m.Latitude, m.Longitude, m.Accuracy)
	}

	bus := events.NewBus(logger)
	svc := service.New(service.Options{
		ServerURL:                 cfg.ServerURL,
		ProjectID:                 cfg.ProjectID,
		DeviceID:                  deviceID,
		ContentDir:                cfg.ContentDir(),
		OnlyConnectOverWifi:       cfg.OnlyConnectOverWifi,
		AlwaysDownloadContent:     cfg.AlwaysDownloadContent,
		NotificationDefaultText:   cfg.NotificationDefaultText,
		StaticSoundtrackSessionID: cfg.StaticSoundtrackSessionID,
	}, service.Deps{
		Prefs:        st,
		Queue:        q,
		Transport:    transport.NewHTTP(logger),
		Bus:          bus,
		Pool:         worker.NewPool(cfg.WorkerPoolSize, logger),
		Loop:         worker.NewMainLoop(logger),
		Player:       service.NewLogPlayer(logger),
		Location:     location,
		Connectivity: prober,
		Downloader:   content.NewDownloader(logger),
		Logger:       logger,
	})
	prober.OnChange(svc.OnConnectivityChanged)

	server := controlplane.NewServer(controlplane.NewService(svc, q, st), bus, cfg.APIListen, logger)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return config.Watch(ctx, configPath, logger, func(next *config.Config) {
			next.ConfigureLogger(logger)
			svc.SetOnlyConnectOverWifi(next.OnlyConnectOverWifi)
		})
	})

	// The session's first requests need a real connectivity answer.
	prober.Check(ctx)
	svc.Start()
	prober.Start(probeInterval)
	defer prober.Stop()

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("daemon stopped")
		return err
	}
	log.Info("shutdown complete")
	return nil
}

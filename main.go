package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wfunc/econgames/config"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/monitor"
	"github.com/wfunc/econgames/persistence"
	"github.com/wfunc/econgames/server"
	"github.com/wfunc/econgames/services"
	"github.com/wfunc/econgames/session"
	"github.com/wfunc/econgames/timer"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "econgames",
		Short:         "Multiplayer economic game sessions over REST and websockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", ".", "config file or directory holding config.yaml")
	flags.String("server.http_address", ":8080", "REST and websocket listen address")
	flags.String("server.rpc_address", "", "net/rpc listen address (disabled when empty)")
	flags.String("server.metrics_address", "", "prometheus listen address (disabled when empty)")
	flags.String("store.driver", config.DriverMemory, "session store: memory, sqlite, redis or postgres")
	flags.String("log.level", "info", "log level")
	flags.Bool("log.development", false, "human readable development logging")

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := monitor.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Log.Warnf("Failed to flush traces: %v", err)
		}
	}()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()
	logger.Log.Infof("Using %s session store", cfg.Store.Driver)

	payoffs := games.DefaultPayoffs()
	if cfg.Games.PayoffsFile != "" {
		if payoffs, err = games.LoadPayoffs(cfg.Games.PayoffsFile); err != nil {
			return err
		}
		logger.Log.Infof("Loaded payoffs from %s", cfg.Games.PayoffsFile)
	}
	registry := games.NewDefaultRegistry(payoffs)

	mon := monitor.NewMonitor("econgames")
	if cfg.Server.MetricsAddress != "" {
		mon.StartServer(cfg.Server.MetricsAddress)
		defer mon.Stop()
	}

	records := services.NewRecordService(store)
	sessions := session.NewManager(session.Options{
		Store:      store,
		Games:      registry,
		Archiver:   records,
		Metrics:    mon,
		MaxRetries: cfg.Sessions.MaxRetries,
	})

	if list, err := sessions.ListSessions(ctx); err == nil {
		mon.SetActiveSessions(len(list))
	}

	gameServer, err := server.NewGameServer(server.Options{
		Addr:      cfg.Server.HTTPAddress,
		RPCAddr:   cfg.Server.RPCAddress,
		PublicURL: cfg.Server.PublicURL,
		Heartbeat: cfg.Server.Heartbeat,
		Sessions:  sessions,
		Records:   records,
		Monitor:   mon,
	})
	if err != nil {
		return err
	}

	timers := timer.NewTimerManager()
	defer timers.Stop()
	if cfg.Sessions.CleanupInterval > 0 {
		timers.AddTimer("session-cleanup", cfg.Sessions.CleanupInterval, cfg.Sessions.CleanupInterval, cleanup(sessions, mon, cfg.Sessions.MaxAge))
	}

	errc := make(chan error, 1)
	go func() {
		// Start Server
		logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		errc <- gameServer.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return gameServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return persistence.NewSQLiteStore(cfg.SQLite.Path)
	case config.DriverRedis:
		return persistence.NewRedisStore(ctx, persistence.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Redis.Prefix,
			MaxRetries: cfg.Redis.MaxRetries,
		})
	case config.DriverPostgres:
		p := cfg.Database.Postgres
		return persistence.NewGormPostgreSQL(persistence.PostgresConfig{
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			DBName:   p.DBName,
			SSLMode:  p.SSLMode,
		})
	default:
		return persistence.NewMemoryStore(), nil
	}
}

// cleanup removes abandoned and long-finished sessions.
func cleanup(sessions *session.Manager, mon *monitor.Monitor, maxAge time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		removed, err := sessions.Cleanup(ctx, maxAge)
		if err != nil {
			logger.Log.Errorf("Session cleanup failed: %v", err)
			return
		}
		list, err := sessions.ListSessions(ctx)
		if err == nil {
			mon.SetActiveSessions(len(list))
		}
		if removed > 0 {
			logger.Log.Infof("Cleaned up %s sessions, %s remain", humanize.Comma(int64(removed)), humanize.Comma(int64(len(list))))
		}
	}
}

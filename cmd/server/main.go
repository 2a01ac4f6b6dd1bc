package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coldvault/broker/api/handlers"
	"github.com/coldvault/broker/internal/chat"
	"github.com/coldvault/broker/internal/command"
	"github.com/coldvault/broker/internal/config"
	"github.com/coldvault/broker/internal/db"
	"github.com/coldvault/broker/internal/history"
	"github.com/coldvault/broker/internal/logging"
	"github.com/coldvault/broker/internal/presence"
	"github.com/coldvault/broker/internal/repository"
	"github.com/coldvault/broker/internal/transcript"
	"github.com/coldvault/broker/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	envFile string
	host    string
	port    int
)

var rootCmd = &cobra.Command{
	Use:           "broker",
	Short:         "Realtime session broker for wallet commands and community chat",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Host = host
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.Flags().StringVar(&host, "host", "", "listen host (overrides HOST)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	catalog := command.NewCatalog(command.CatalogConfig{
		ScriptsDir:  cfg.ScriptsDir,
		Interpreter: cfg.PythonBin,
	})
	if cfg.WorkersFile != "" {
		if err := catalog.LoadOverrides(cfg.WorkersFile); err != nil {
			return err
		}
	}

	var opts []command.Option
	var runs *repository.RunRepository
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		runs = repository.NewRunRepository(database)
		if n, err := runs.MarkInterrupted(ctx); err != nil {
			log.Warn("Failed to close stale runs", zap.Error(err))
		} else if n > 0 {
			log.Info("Closed runs interrupted by a previous shutdown", zap.Int64("runs", n))
		}
		opts = append(opts, command.WithRunStore(runs))
	}
	if cfg.TranscriptDir != "" {
		casts, err := transcript.NewDir(cfg.TranscriptDir)
		if err != nil {
			return err
		}
		opts = append(opts, command.WithTranscripts(casts))
	}

	commands := command.NewService(catalog, &command.ExecRunner{}, log.Named("command"), opts...)
	broker := chat.NewBroker(
		presence.NewRegistry(),
		history.NewStore(cfg.HistoryLimit),
		log.Named("chat"),
		chat.WithDefaultRoom(cfg.DefaultRoom),
	)

	registry := ws.NewRegistry()
	endpoint := ws.NewEndpoint(registry, log.Named("ws"), ws.Options{
		QueueSize:      cfg.ClientQueueSize,
		AllowedOrigins: cfg.Origins(),
	})

	deps := handlers.Deps{
		Endpoint:       endpoint,
		Commands:       commands,
		Broker:         broker,
		AllowedOrigins: cfg.Origins(),
		Log:            log.Named("http"),
	}
	if runs != nil {
		deps.Runs = runs
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("scripts_dir", cfg.ScriptsDir),
			zap.Int("history_limit", cfg.HistoryLimit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown
		err := srv.Shutdown(shutdownCtx)
		registry.CloseAll()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped cleanly")
	return nil
}

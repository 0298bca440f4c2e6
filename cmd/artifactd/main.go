package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/artifactd/internal/config"
	"github.com/italolelis/artifactd/internal/downloader"
	"github.com/italolelis/artifactd/internal/http/rest"
	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/notifier"
	"github.com/italolelis/artifactd/internal/postprocess"
	"github.com/italolelis/artifactd/internal/storage"
	"github.com/italolelis/artifactd/internal/storage/sqlite"
	"github.com/italolelis/artifactd/internal/telemetry"
	"github.com/italolelis/artifactd/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and returns a context carrying the logger.
func setup(ctx context.Context) (context.Context, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return nil, nil, err
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	return logctx.WithLogger(ctx, logger), cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := downloader.GenerateRunID()
	ctx, logger := logctx.With(ctx, "run_id", runID)

	logger.InfoContext(ctx, "artifactd starting...", "version", version, "log_level", cfg.LogLevel)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.WarnContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.ErrorContext(ctx, "DB error", "err", err)

		return err
	}
	defer database.Close()

	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)
	assets := sqlite.NewInstrumentedAssetRepository(database, tel)

	// =========================================================================
	// Load Manifest
	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	// =========================================================================
	// Start Orchestrator
	orch, err := downloader.New(m, downloader.Options{
		Source:           buildSource(cfg, tel),
		Staging:          downloader.NewStaging(cfg.StagingDir),
		PostProcessor:    postprocess.NewArchive(assets, tel),
		Notifier:         buildNotifier(cfg),
		Telemetry:        tel,
		ProgressInterval: cfg.ProgressIntervalBytes,
		ProbeTimeout:     cfg.ProbeTimeout,
		AppName:          cfg.AppName,
		OnError: func(err error) {
			logger.WarnContext(ctx, "artifact failed, POST /retry to resume", "err", err)
		},
		OnDownloaded: trackDownload(ctx, downloads, runID),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, orch, assets, downloads, tel, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(ctx, "initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		err := orch.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		if err != nil {
			return err
		}

		if cfg.ExitWhenDone {
			logger.InfoContext(ctx, "all artifacts in place, exiting")
			cancel()
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.InfoContext(ctx, "start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// buildSource routes http(s) URIs to the HTTP source and file URIs to blob
// storage.
func buildSource(cfg *config.Config, tel *telemetry.Telemetry) transfer.Source {
	mux := transfer.NewMux()

	mux.Handle(transfer.NewHTTPSource(transfer.HTTPOptions{
		DialTimeout:           cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		UserAgent:             cfg.AppName + "/" + version,
	}), "http", "https")
	mux.Handle(transfer.NewBlobSource(), "file")

	return transfer.NewInstrumentedSource(mux, tel)
}

func buildNotifier(cfg *config.Config) notifier.Bridge {
	bridges := notifier.Multi{notifier.LogNotifier{}}

	if cfg.DiscordWebhookURL != "" {
		bridges = append(bridges, notifier.NewThrottled(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL), cfg.NotifyInterval))
	}

	return bridges
}

// trackDownload records every artifact this run transferred.
func trackDownload(ctx context.Context, repo storage.DownloadWriteRepository, runID string) func(manifest.Descriptor) {
	logger := logctx.LoggerFromContext(ctx)

	return func(d manifest.Descriptor) {
		var size int64
		if info, err := os.Stat(d.Path()); err == nil {
			size = info.Size()
		}

		err := repo.TrackDownload(ctx, storage.DownloadRecord{
			RunID:     runID,
			FileName:  d.FileName,
			Path:      d.Path(),
			SourceURI: d.SourceURI,
			Bytes:     size,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to track download", "file_name", d.FileName, "err", err)
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	orch *downloader.Orchestrator,
	assets rest.AssetLookup,
	downloads storage.DownloadReadRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	var metrics http.Handler
	if cfg.Telemetry.Enabled {
		metrics = tel.Handler()
	}

	handler := rest.NewStatusHandler(orch, assets, downloads, metrics)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

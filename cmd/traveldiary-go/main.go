// Package main is the entrypoint for the traveldiary-go server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/access"
	"github.com/traveldiary/traveldiary-go/internal/cache"
	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/config"
	"github.com/traveldiary/traveldiary-go/internal/grants/secret"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/invites"
	"github.com/traveldiary/traveldiary-go/internal/notify"
	platformtls "github.com/traveldiary/traveldiary-go/internal/platform/tls"
	"github.com/traveldiary/traveldiary-go/internal/server"
	"github.com/traveldiary/traveldiary-go/internal/sharelinks"
	"github.com/traveldiary/traveldiary-go/internal/store"
	"github.com/traveldiary/traveldiary-go/internal/sweeper"
	"github.com/traveldiary/traveldiary-go/internal/trips"
	"github.com/traveldiary/traveldiary-go/internal/verification"

	// Register store and cache drivers
	_ "github.com/traveldiary/traveldiary-go/internal/cache/memory"
	_ "github.com/traveldiary/traveldiary-go/internal/store/json"
	_ "github.com/traveldiary/traveldiary-go/internal/store/sqlite"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	externalOrigin := flag.String("external-origin", "", "External origin (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: json or sqlite (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config with precedence: mode preset -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			ExternalOrigin: externalOrigin,
			StoreDriver:    storeDriver,
			DataDir:        dataDir,
			TLSMode:        tlsMode,
			LogLevel:       logLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create the store (json or sqlite, registered via blank imports)
	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		Options: cfg.StoreDriverOptions(),
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if err := st.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	logger.Info("store initialized", "driver", cfg.Store.Driver, "data_dir", cfg.Store.DataDir)

	// Create cache (backs the rate limiters)
	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	cacheInstance, err := cache.New(cacheDriver, cfg.CacheDriverOptions())
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	clk := clock.System()
	verifier := secret.NewVerifier()
	notifier := notify.NewLogNotifier(logger)

	verificationSvc := verification.New(st, notifier, clk, logger,
		time.Duration(cfg.Verification.TTLHours)*time.Hour, cfg.ExternalOrigin)

	identitySvc := identity.New(st, st, verifier, clk, logger,
		time.Duration(cfg.Sessions.TTLDays)*24*time.Hour)

	tripSvc := trips.New(st, clk, logger)

	inviteSvc := invites.New(st, verificationSvc, notifier, clk, logger, invites.Options{
		DefaultTTL:           time.Duration(cfg.Invites.DefaultTTLDays) * 24 * time.Hour,
		RequireVerifiedEmail: cfg.Invites.RequireVerifiedEmail,
		ExternalOrigin:       cfg.ExternalOrigin,
	})

	shareSvc := sharelinks.New(st, verifier, clk, logger, sharelinks.Options{
		DefaultTTLDays:     cfg.Sharing.DefaultTTLDays,
		AllowMultipleLinks: cfg.Sharing.AllowMultipleLinks,
	})

	resolver := access.New(st, shareSvc, clk, logger)

	// TLS manager (with ACME when configured)
	var acmeManager *platformtls.ACMEManager
	if cfg.TLS.Mode == "acme" {
		acmeManager = platformtls.NewACMEManager(&cfg.TLS.ACME, logger)
	}
	tlsManager := platformtls.NewManager(&cfg.TLS, logger, acmeManager)

	deps := &server.Deps{
		Identity:     identitySvc,
		Trips:        trips.NewHandler(tripSvc, st),
		Invitations:  invites.NewHandler(inviteSvc),
		ShareLinks:   sharelinks.NewHandler(shareSvc, tripSvc, cfg.ExternalOrigin),
		Verification: verification.NewHandler(verificationSvc),
		Access:       resolver,
		Cache:        cacheInstance,
		TLSManager:   tlsManager,
		ACMEManager:  acmeManager,
	}

	srv, err := server.New(cfg, logger, deps)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Background expiry sweeper
	sw := sweeper.New(st, clk, logger,
		time.Duration(cfg.Sweeper.IntervalSeconds)*time.Second, cfg.Sweeper.BatchSize)
	go sw.Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newLogger builds the configured slog logger.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/dialer/internal/api"
	"github.com/sebas/dialer/internal/banner"
	"github.com/sebas/dialer/internal/config"
	"github.com/sebas/dialer/internal/dial"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/events"
	"github.com/sebas/dialer/internal/logger"
	"github.com/sebas/dialer/internal/presence"
	"github.com/sebas/dialer/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dialer:", err)
		os.Exit(2)
	}

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("Dialer stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "dialer", cfg.NodeID, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Trace flush failed", "error", err)
		}
	}()

	store, err := openPresence(ctx, cfg)
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	defer store.Close()

	hub := events.NewHub()
	publishers := []events.Publisher{hub, events.NewLoggingPublisher(slog.Default())}
	if cfg.NATSURL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		np, err := events.NewNATSPublisher(ctx, natsCfg, slog.Default())
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		publishers = append(publishers, np)
	}
	publisher := events.NewMultiPublisher(publishers...)
	defer publisher.Close()

	eng := memory.New()
	dialer := dial.NewService(dial.ServiceConfig{
		Calls:         eng,
		Conferences:   eng,
		Presence:      store,
		Publisher:     publisher,
		NodeID:        cfg.NodeID,
		RingbackAudio: cfg.RingbackAudio,
		RecordingsURL: cfg.RecordingsURL,
		Region:        cfg.Region,
	})

	var auth *api.Authenticator
	if cfg.AuthEnabled() {
		if auth, err = api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Config{
		Addr:     cfg.HTTPAddr,
		Engine:   eng,
		Dialer:   dialer,
		Presence: store,
		Hub:      hub,
		Auth:     auth,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	var health *api.HealthServer
	if cfg.GRPCAddr != "" {
		health = api.NewHealthServer(slog.Default())
		if err := health.Start(cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
	}

	banner.Fprint(os.Stdout, "Dialer", []banner.Line{
		{Label: "Node", Value: cfg.NodeID},
		{Label: "HTTP", Value: cfg.HTTPAddr},
		{Label: "gRPC health", Value: cfg.GRPCAddr},
		{Label: "Presence", Value: cfg.PresenceBackend},
		{Label: "Region", Value: cfg.Region},
		{Label: "Ringback", Value: cfg.RingbackAudio},
		{Label: "Recordings", Value: cfg.RecordingsURL},
		{Label: "NATS", Value: cfg.NATSURL},
		{Label: "Tracing", Value: cfg.OTELEndpoint},
		{Label: "Auth", Value: fmt.Sprint(cfg.AuthEnabled())},
	})

	<-ctx.Done()
	slog.Info("Received signal, shutting down")

	if health != nil {
		health.Drain()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	if health != nil {
		health.Stop()
	}
	if err := publisher.Flush(shutdownCtx); err != nil {
		slog.Warn("Event flush incomplete", "error", err)
	}

	slog.Info("Dialer stopped")
	return nil
}

func openPresence(ctx context.Context, cfg *config.Config) (presence.Store, error) {
	switch cfg.PresenceBackend {
	case config.BackendRedis:
		rdb, err := presence.OpenRedis(ctx, presence.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		return presence.NewRedisStore(rdb, "dialer:presence"), nil

	case config.BackendPostgres:
		db, err := presence.OpenPostgres(ctx, cfg.PostgresDSN, presence.PoolConfig{})
		if err != nil {
			return nil, err
		}
		return presence.NewSQLStore(ctx, db, presence.DialectPostgres)

	case config.BackendSQLite:
		db, err := presence.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return presence.NewSQLStore(ctx, db, presence.DialectSQLite)

	default:
		return presence.NewMemoryStore(time.Minute), nil
	}
}

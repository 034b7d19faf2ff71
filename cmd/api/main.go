package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/habits/internal/api"
	"example.com/habits/internal/auth"
	"example.com/habits/internal/calendar"
	"example.com/habits/internal/config"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/identity"
	"example.com/habits/internal/logging"
	"example.com/habits/internal/persistence/postgres"
	"example.com/habits/internal/persistence/sqlite"
	httptransport "example.com/habits/internal/transport/http"
)

func main() {
	cfg, err := config.LoadAPI(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Prefix: "habits-api"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open store", "driver", cfg.StoreDriver, "err", err)
	}
	defer closeStore.Close()

	tokens := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.SessionTTL}
	habits := domain.NewService(repo, domain.WithCalendar(calendar.New(cfg.Location())))
	identities := identity.NewService(identity.NewGoogleProvider(cfg.UserInfoURL, cfg.IdentityTimeout), repo, tokens)

	handler := api.NewHandler(habits, identities, auth.NewMiddleware(tokens), logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.RequestLogger(logger, httptransport.CORS(cfg.CORSOrigins, mux)),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("habit api listening", "addr", cfg.HTTPAddress, "store", cfg.StoreDriver, "timezone", cfg.Location().String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", "err", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg config.API) (domain.Repository, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}


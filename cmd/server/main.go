package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/settlement/internal/api"
	"github.com/xtrntr/settlement/internal/auth"
	"github.com/xtrntr/settlement/internal/cache"
	"github.com/xtrntr/settlement/internal/chain"
	"github.com/xtrntr/settlement/internal/config"
	"github.com/xtrntr/settlement/internal/db"
	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/exchange"
	"github.com/xtrntr/settlement/internal/logging"
	"github.com/xtrntr/settlement/internal/state"
	"github.com/xtrntr/settlement/internal/token"
)

// Main entry point: loads configuration, wires the store, exchange and HTTP server
func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var store state.Store
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		store = database
		logger.Info("using postgres store")
	} else {
		store = state.NewMemStore()
		logger.Warn("DATABASE_URL not set, state is kept in memory")
	}

	var challenges cache.Challenges
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, "settlement")
		if err != nil {
			return err
		}
		defer rc.Close()
		challenges = rc
	} else {
		challenges = cache.NewMemory()
	}

	sinks := []events.Sink{events.LogSink{Logger: logger.Named("events")}}
	if len(cfg.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("kafka"))
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	bus := events.NewBus(logger.Named("bus"), sinks...)

	registry, err := token.NewRegistry(cfg.Tokens...)
	if err != nil {
		return err
	}
	// Block numbers are derived from wall time so they keep increasing across
	// restarts against a persistent store.
	now := uint64(time.Now().Unix())
	step := uint64(cfg.BlockInterval / time.Second)
	if step == 0 {
		step = 1
	}
	clock := chain.New(chain.Block{Number: now / step, Time: now})
	go clock.Run(ctx, cfg.BlockInterval, logger.Named("chain"))

	ex, err := exchange.New(cfg.ExchangeParams(), store, token.NewBank(registry), clock, bus, logger.Named("exchange"))
	if err != nil {
		return err
	}
	authService, err := auth.NewAuthService(cfg.JWTSecret, challenges, cfg.Admins, cfg.Operators)
	if err != nil {
		return err
	}

	handler := api.NewHandler(ex, authService, registry, bus, logger.Named("api"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.HTTPAddr),
			zap.Stringer("contract", ex.Address()),
			zap.Int("tokens", len(registry.All())))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webpulse/webpulse/internal/archive"
	"github.com/webpulse/webpulse/internal/config"
	"github.com/webpulse/webpulse/internal/engine"
	"github.com/webpulse/webpulse/internal/firehose"
	"github.com/webpulse/webpulse/internal/geo"
	"github.com/webpulse/webpulse/internal/handler"
	"github.com/webpulse/webpulse/internal/limiter"
	"github.com/webpulse/webpulse/internal/store"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/collector.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	log.Info().Msg("Starting WebPulse collector...")

	// Storage: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure schema")
		}
		st = pg
		log.Info().Msg("Connected to Postgres")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("No Postgres DSN configured, using in-memory store")
	}

	// Engine options
	opts := []engine.Option{}

	geoResolver := geo.NewResolver(cfg.GeoIP.DatabasePath)
	defer geoResolver.Close()
	opts = append(opts, engine.WithGeoResolver(geoResolver))

	if len(cfg.Kafka.Brokers) > 0 {
		producer := firehose.NewProducer(cfg.Kafka)
		defer producer.Close()
		opts = append(opts, engine.WithPublisher(producer))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka firehose initialized")
	}

	if cfg.ClickHouse.Addr != "" {
		arch, err := archive.New(cfg.ClickHouse, cfg.Batch)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		defer arch.Close()
		opts = append(opts, engine.WithPublisher(arch))
		log.Info().Str("addr", cfg.ClickHouse.Addr).Msg("ClickHouse archive initialized")
	}

	eng := engine.New(st, st, st, opts...)

	// Rate limiter (optional)
	var rateLimiter *limiter.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		rateLimiter = limiter.New(rdb, cfg.RateLimit.RequestsPerSecond)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Rate limiter initialized")
	}

	// HTTP server
	httpHandler := handler.NewHTTPHandler(eng, rateLimiter)
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(handler.CORSMiddleware)
	httpHandler.Register(r)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: r,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	httpServer.Shutdown(context.Background())
	log.Info().Msg("Shutdown complete")
}

package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/auction-live/internal/archive"
	"github.com/aaronwang/auction-live/internal/auction"
	"github.com/aaronwang/auction-live/internal/bridge"
	"github.com/aaronwang/auction-live/internal/chat"
	"github.com/aaronwang/auction-live/internal/config"
	"github.com/aaronwang/auction-live/internal/gateway"
	"github.com/aaronwang/auction-live/internal/httpapi"
	"github.com/aaronwang/auction-live/internal/metrics"
	"github.com/aaronwang/auction-live/internal/presence"
	"github.com/aaronwang/auction-live/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	setupLogger(cfg.LogLevel, cfg.LogPretty)

	log.Info().Str("addr", cfg.ServerAddr).Msg("starting auction realtime gateway")

	st, err := store.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer st.Close()
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	// Archival is optional: without a NATS URL the live path runs alone.
	var archiver auction.Archiver
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()

		pub, err := archive.NewPublisher(nc, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up archival stream")
		}
		archiver = pub
		log.Info().Str("url", cfg.NatsURL).Msg("connected to NATS, archival enabled")
	} else {
		log.Warn().Msg("NATS_URL not set, bid archival disabled")
	}

	clock := clockwork.NewRealClock()
	auctions := auction.NewManager(st, archiver, clock, log.Logger)
	pres := presence.NewManager(st, clock, log.Logger)
	chatLog := chat.NewLog(st, clock, log.Logger)
	rec := metrics.NewRecorder(st, clock, log.Logger)

	wsManager := gateway.NewManager(log.Logger)
	gw := gateway.New(wsManager, auctions, pres, chatLog, rec, st, clock, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cross-instance fanout: bids placed on other gateway processes
	// reach sockets connected here.
	fanout := bridge.New(st, wsManager, log.Logger)
	go func() {
		if err := fanout.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("fanout bridge stopped")
		}
	}()

	handler := httpapi.NewHandler(auctions, pres, chatLog, rec, wsManager, st, clock, log.Logger)
	router := handler.SetupRoutes(gw.HandleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      c.Handler(router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped gracefully")
}

// Config holds gateway configuration.
type Config struct {
	ServerAddr      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NatsURL         string
	AllowedOrigins  []string
	LogLevel        string
	LogPretty       bool
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:      config.GetEnv("SERVER_ADDR", ":8080"),
		RedisAddr:       config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:         config.GetEnvInt("REDIS_DB", 0),
		NatsURL:         config.GetEnv("NATS_URL", "nats://localhost:4222"),
		AllowedOrigins:  []string{config.GetEnv("ALLOWED_ORIGIN", "*")},
		LogLevel:        config.GetEnv("LOG_LEVEL", "info"),
		LogPretty:       config.GetEnvBool("LOG_PRETTY", false),
		ShutdownTimeout: config.GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func setupLogger(level string, pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

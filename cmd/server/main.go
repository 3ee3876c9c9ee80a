package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bhavik66/chat-widget-backend/internal/ai"
	"github.com/bhavik66/chat-widget-backend/internal/chat"
	"github.com/bhavik66/chat-widget-backend/internal/config"
	"github.com/bhavik66/chat-widget-backend/internal/db"
	"github.com/bhavik66/chat-widget-backend/internal/middleware"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	// Persistence: Postgres when configured, in-memory otherwise.
	var store chat.Store
	if cfg.DBDSN != "" {
		database, err := db.NewDatabase(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer database.Close()
		if err := database.AutoMigrate(); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		store = chat.NewRepository(database.Conn)
		log.Info().Msg("connected to PostgreSQL")
	} else {
		store = chat.NewMemoryStore()
		log.Warn().Msg("DB_DSN not set, using in-memory store")
	}

	// Redis bridges broadcasts between processes; optional.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("could not connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	var generator ai.Generator
	if cfg.OpenAIKey != "" {
		generator = ai.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel)
		log.Info().Str("model", cfg.OpenAIModel).Msg("using OpenAI generator")
	} else {
		generator = ai.RulesGenerator{Delay: cfg.ReplyDelay}
		log.Info().Msg("using rule-based generator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chat.NewRoomRegistry()
	hub := chat.NewHub(registry, redisClient, log)
	orch := chat.NewOrchestrator(store, generator, hub, cfg.GenerateTimeout, cfg.HistorySize, log)
	wsHandler := chat.NewHandler(ctx, hub, registry, orch, log)
	api := chat.NewAPI(store, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	api.Routes(r)
	r.Get("/ws", wsHandler.ServeWs)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := hub.RunBridge(egCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

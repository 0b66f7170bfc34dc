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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat/internal/chat"
	"go-chat/internal/config"
	"go-chat/internal/db"
	"go-chat/internal/logger"
	myMiddleware "go-chat/internal/middleware"
	"go-chat/internal/relay"
	"go-chat/internal/store"
	"go-chat/internal/user"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides config)")
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	var (
		messages chat.MessageStore
		history  chat.HistoryStore
		members  chat.MembershipSource
		pg       *store.Postgres
		accounts user.Store
	)
	if cfg.Store.DSN != "" {
		database, err := db.NewDatabase(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer database.Close()
		if err := database.AutoMigrate(ctx); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("connected to postgres")
		pg = store.NewPostgres(database.Conn)
		members = pg
		accounts = user.NewRepository(database.Conn)
	}

	switch cfg.Store.Driver {
	case config.StoreMongo:
		mg, err := store.NewMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			log.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer mg.Close(context.Background())
		log.Info("connected to mongo", zap.String("database", cfg.Store.MongoDB))
		messages, history = mg, mg
	default:
		messages, history = pg, pg
	}

	// 3. Redis: member cache + collaborator relay
	var (
		rdb   *redis.Client
		inval relay.Invalidator
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

		if members != nil {
			cache := store.NewMemberCache(rdb, members, cfg.Redis.MemberTTL, log.Named("members"))
			members = cache
			inval = cache
		}
	}

	// 4. Chat
	hub := chat.NewHub(chat.HubConfig{
		Store:        messages,
		Members:      members,
		WriteTimeout: cfg.Store.WriteTimeout,
	}, log.Named("hub"))

	chatHandler := chat.NewHandler(hub, chat.ClientOptions{
		MaxMessageSize: cfg.Socket.MaxMessageSize,
		SendBuffer:     cfg.Socket.SendBuffer,
		RateBurst:      cfg.Socket.RateBurst,
		RateInterval:   cfg.Socket.RateInterval,
		HandleTimeout:  cfg.Store.WriteTimeout,
	}, cfg.AllowedOrigins, log.Named("ws"))

	historyHandler := chat.NewHistoryHandler(history, members, log.Named("history"))

	relayDone := make(chan struct{})
	if rdb != nil {
		sub := relay.NewSubscriber(rdb, cfg.Redis.EventChannel, hub, inval, log.Named("relay"))
		go func() {
			defer close(relayDone)
			if err := sub.Run(ctx); err != nil {
				log.Error("relay stopped", zap.Error(err))
			}
		}()
	} else {
		close(relayDone)
	}

	userService := user.NewService(accounts, cfg.JWTSecret)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", chatHandler.Health)
	// Account routes need the users table; without Postgres tokens come from
	// an external issuer sharing JWT_SECRET.
	if accounts != nil {
		userHandler := user.NewHandler(userService, log.Named("user"))
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
		r.Post("/logout", userHandler.Logout)
	}
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", chatHandler.ServeWs)
		// History needs a membership source to check who may read.
		if members != nil {
			r.Get("/api/messages/{id}", historyHandler.Messages)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-relayDone
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn("pending message writes abandoned", zap.Error(err))
	}
	log.Info("bye")
}

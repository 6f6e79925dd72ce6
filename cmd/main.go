package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"supportchat/backend/internal/api/handler"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/delivery"
	"supportchat/backend/internal/handoff"
	"supportchat/backend/internal/limiter"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/telegram"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if cfg.RedisAddr == "" {
		log.Println("WARNING: REDIS_ADDR not set; running single-node without rate limiting")
		return db, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func setupNotifier(cfg *config.Config) *telegram.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramStaffChatID == 0 {
		log.Println("Telegram staff notifications disabled")
		return nil
	}
	loc, err := localization.NewDefaultLocalizer()
	if err != nil {
		log.Fatalf("Failed to load locales: %v", err)
	}
	if !loc.Supports(cfg.NotifyLang) {
		log.Printf("WARNING: no %q locale, staff notifications use %s", cfg.NotifyLang, localization.FallbackLang)
	} else if missing := loc.Missing(cfg.NotifyLang); len(missing) > 0 {
		log.Printf("WARNING: %s locale lacks %v, using %s for those", cfg.NotifyLang, missing, localization.FallbackLang)
	}
	n, err := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramStaffChatID, loc, cfg.NotifyLang)
	if err != nil {
		log.Printf("WARNING: Telegram notifier unavailable: %v", err)
		return nil
	}
	return n
}

func main() {
	log.Println("Starting support chat backend...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, rdb := setupDependencies(cfg)
	store := storage.NewStorageService(db)

	var relay chathub.Relay
	if rdb != nil {
		relay = chathub.NewRedisRelay(rdb)
	}
	hub := chathub.NewManagerService(relay)
	chat := handoff.NewService(store, delivery.NewCoordinator(hub), hub)
	if rdb != nil {
		chat.Limiter = limiter.NewFixedWindow(rdb, config.RateLimitKeyPrefix, cfg.SendLimit, cfg.SendWindow)
	}
	notifier := setupNotifier(cfg)
	if notifier != nil {
		chat.Notifier = notifier
	}
	reaper := handoff.NewReaper(chat, cfg.IdleRevert)

	h := handler.NewHandler(hub, chat, auth.NewTokenService(cfg.JWTSecret))
	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        h.SetupRouter(),
		ReadTimeout:    config.RequestTimeout,
		WriteTimeout:   config.RequestTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})
	if notifier != nil {
		g.Go(func() error {
			notifier.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Printf("HTTP server listening on %s (node %s)", cfg.HTTPAddr, hub.NodeID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	go func() {
		if err := g.Wait(); err != nil {
			log.Fatalf("ERROR: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"support-chat": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				if err := server.Shutdown(ctx); err != nil {
					return err
				}
				cancel()
				if err := g.Wait(); err != nil {
					return err
				}
				if rdb != nil {
					rdb.Close()
				}
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Support chat backend exited with code: %d", exitCode)
	os.Exit(exitCode)
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secretshare-backend/internal/api"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/config"
	"secretshare-backend/internal/crypto"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/logger"
	"secretshare-backend/internal/notify"
	"secretshare-backend/internal/repository"
	"secretshare-backend/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; the environment may already be set (Docker/K8s)
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env file: %v (using existing environment)", err)
	}

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lg := logger.New()
	if err := lg.Init(cfg.LogLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zl := lg.Log
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	store, err := repository.NewPostgresStore(initCtx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()
	zl.Info("connected to postgres", zap.String("driver", cfg.DatabaseDriver))

	migrationSQL, err := os.ReadFile(cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	if err := store.RunMigrations(initCtx, string(migrationSQL)); err != nil {
		zl.Warn("migrations failed, continuing", zap.Error(err))
	} else {
		zl.Info("database migrations applied")
	}

	var challenges repository.ChallengeStore = store
	if cfg.ChallengeBackend == "redis" {
		redisStore, err := repository.NewRedisChallengeStore(initCtx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		challenges = redisStore
		zl.Info("challenges stored in redis")
	}

	tokenService, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}
	cipher, err := crypto.NewCipher(cfg.AddressSecretKey)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	telegram := auth.NewInitDataValidator(cfg.TelegramBotToken, cfg.TelegramInitDataMaxAge)
	notifier := newNotifier(cfg, zl)

	if cfg.IsStaging {
		zl.Warn("staging mode: wallet signature checks are disabled")
	}

	resolver := identity.NewResolver(store, store, zl)
	challengeSvc := service.NewChallengeService(store, challenges, auth.EthereumVerifier{}, cfg.AppName, cfg.ChallengeExpiresInMinutes, zl)
	issuer := service.NewTokenIssuer(tokenService, store, resolver, cfg.JWTAccessExpiresIn, cfg.JWTRefreshExpiresIn, zl)
	sharing := service.NewSharingService(resolver, store, zl)
	visibility := service.NewVisibilityService(store, store, resolver, notifier, zl)

	handler := api.NewHandler(api.Services{
		Auth:       service.NewAuthenticator(tokenService, telegram, store, zl),
		Login:      service.NewLoginService(store, store, store, resolver, challengeSvc, issuer, telegram, cfg.IsStaging, zl),
		Addresses:  service.NewAddressService(store, challengeSvc, cipher, cfg.IsStaging, zl),
		Secrets:    service.NewSecretService(store, store, resolver, sharing, visibility, notifier, zl),
		Visibility: visibility,
		Users:      service.NewUserService(store, store, resolver, zl),
		Reports:    service.NewReportService(store, store, store, resolver, cfg.ReportThreshold, zl),
	}, zl)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(cfg.CORSAllowedOrigins),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server started", zap.String("addr", fmt.Sprintf("http://localhost:%d/v1", cfg.ServerPort)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		zl.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	zl.Info("server stopped")
	return nil
}

func newNotifier(cfg config.Config, zl *zap.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" || !cfg.TelegramNotifications {
		return notify.NewLogNotifier(zl)
	}
	tn, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, zl)
	if err != nil {
		zl.Warn("telegram notifications disabled", zap.Error(err))
		return notify.NewLogNotifier(zl)
	}
	return tn
}

package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/database"
	"github.com/iliyamo/book-catalog/internal/handler"
	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/queue"
	"github.com/iliyamo/book-catalog/internal/repository"
	"github.com/iliyamo/book-catalog/internal/router"
	"github.com/iliyamo/book-catalog/internal/service"
	"github.com/iliyamo/book-catalog/internal/utils"
)

const (
	shutdownTimeout = 10 * time.Second
	// expired refresh tokens are kept this long before the janitor deletes them
	tokenRetention = 24 * time.Hour
	auditLogDir    = "logs"
)

func main() {
	cfg := config.MustLoad() // Load environment config

	lg, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "dev",
		App:    "book-catalog",
		Env:    cfg.Env,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.Into(ctx, lg)

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		lg.Fatal("database connection failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			lg.Fatal("migration failed", zap.Error(err))
		}
	}

	redisCfg := config.LoadRedisConfig()
	rdb := config.NewRedisClient(redisCfg)
	if rdb == nil {
		lg.Warn("redis unavailable; rate limiting and caching disabled", zap.String("addr", redisCfg.Addr))
	} else {
		defer func() { _ = rdb.Close() }()
	}

	issuer, err := utils.NewTokenIssuer(cfg.Auth)
	if err != nil {
		lg.Fatal("token issuer", zap.Error(err))
	}
	hasher, err := utils.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		lg.Fatal("password hasher", zap.Error(err))
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, lg)
		defer func() { _ = pub.Close() }()
		events = pub
		go queue.StartAuditConsumer(ctx, cfg.AMQPURL, auditLogDir, lg)
	} else {
		lg.Info("AMQP_URL not set; auth events disabled")
	}

	store := repository.NewStore(db)
	tokens := service.NewRefreshTokenManager(store, issuer, cfg.Auth.RefreshTTL, cfg.Auth.RevokeFamilyOnReuse, events)
	auth := service.NewAuthService(store, hasher, issuer, tokens, events)
	tokens.StartJanitor(ctx, cfg.JanitorInterval, tokenRetention)

	e := router.New(router.Deps{
		Log:       lg,
		Issuer:    issuer,
		Auth:      handler.NewAuthHandler(auth, cfg.Auth),
		Books:     handler.NewBookHandler(repository.NewBookRepo(db)),
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Ping:      db.PingContext,
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}

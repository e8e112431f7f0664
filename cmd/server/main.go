package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/internal/api"
	"github.com/hugh/go-referral/internal/api/handlers"
	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/cache"
	"github.com/hugh/go-referral/internal/database"
	"github.com/hugh/go-referral/internal/magiclink"
	"github.com/hugh/go-referral/internal/notify"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/storage"
	"github.com/hugh/go-referral/internal/tasks"
	"github.com/hugh/go-referral/internal/token"
	"github.com/hugh/go-referral/pkg/config"
	"github.com/hugh/go-referral/pkg/crypto"
	"github.com/hugh/go-referral/pkg/queue"
	"github.com/hugh/go-referral/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting referral server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Redis is optional: without it there is no cache and no queue.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		redisClient.Close()
		redisClient = nil
	}

	var (
		lookupCache *cache.Cache
		inspector   handlers.QueueInspector
		asynqClient *asynq.Client
	)
	if redisClient != nil {
		lookupCache = cache.New(cache.NewRedisStore(redisClient), cfg.Cache.Fresh(), cfg.Cache.Stale(), logger)
		insp := queue.NewInspector(&cfg.Redis)
		defer insp.Close()
		inspector = insp
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - sealed notes will be unreadable after restart")
	}

	// Status notifications
	var (
		publisher notify.Publisher
		kafkaPub  *notify.KafkaPublisher
	)
	switch cfg.Notify.Transport {
	case "kafka":
		kafkaPub = notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		publisher = kafkaPub
	case "asynq":
		if redisClient != nil {
			asynqClient = queue.NewClient(&cfg.Redis)
			publisher = tasks.NewPublisher(asynqClient)
			break
		}
		logger.Warn("asynq transport needs Redis, falling back to log transport")
		publisher = notify.NewLogPublisher(logger)
	default:
		publisher = notify.NewLogPublisher(logger)
	}
	emitter := notify.NewAsyncEmitter(publisher, logger, cfg.Notify.Timeout())

	issuer := token.NewIssuer()
	digester := token.NewDigester(cfg.Public.AccessCodeSecret)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService)

	referrals := referral.NewService(db, issuer, digester, encryptor, logger,
		referral.WithEmitter(emitter),
		referral.WithCache(lookupCache),
	)
	links := magiclink.NewRegistry(db, issuer, digester, referrals, logger,
		magiclink.WithCache(lookupCache),
		magiclink.WithCodeDigits(cfg.Public.AccessCodeDigits),
	)

	// A typed nil would defeat the handlers' nil check.
	var presigner storage.Presigner
	s3Presigner, err := storage.NewS3Presigner(context.Background(), cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Info("attachment storage not configured, report files will be listed without links")
	case err != nil:
		logger.Error("failed to set up attachment storage", "error", err)
		os.Exit(1)
	default:
		presigner = s3Presigner
	}

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Inspector:      inspector,
		Logger:         logger,
		JWTService:     jwtService,
		AuthService:    authService,
		Referrals:      referrals,
		Links:          links,
		Presigner:      presigner,
		PublicBaseURL:  cfg.Public.BaseURL,
		SessionTTL:     cfg.JWT.Expiry(),
		SecureCookies:  !cfg.Server.IsDevelopment(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
		PublicLimitReq: cfg.RateLimit.PublicRequests,
		PublicLimitSec: cfg.RateLimit.PublicWindowSeconds,
		CodeLimitReq:   cfg.RateLimit.CodeAttempts,
		CodeLimitSec:   cfg.RateLimit.CodeWindowSeconds,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Let in-flight notifications and cache refreshes finish before the
	// clients they use go away.
	emitter.Wait()
	if lookupCache != nil {
		lookupCache.Wait()
	}

	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Warn("closing kafka writer", "error", err)
		}
	}
	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-engine/internal/config"
	"github.com/noah-isme/gema-grading-engine/internal/database"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/handler"
	"github.com/noah-isme/gema-grading-engine/internal/middleware"
	"github.com/noah-isme/gema-grading-engine/internal/repository"
	"github.com/noah-isme/gema-grading-engine/internal/router"
	"github.com/noah-isme/gema-grading-engine/internal/service"
	"github.com/noah-isme/gema-grading-engine/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to access database pool: %v", err)
	}
	defer sqlDB.Close()

	probes := map[string]handler.HealthProbe{
		"postgres": sqlDB.PingContext,
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn().Msg("redis not configured, using in-process response locks and no verdict cache")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	var (
		completer ai.Completer
		moderator ai.Moderator
	)
	if cfg.OpenAIAPIKey != "" {
		client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:            cfg.OpenAIAPIKey,
			BaseURL:           cfg.OpenAIBaseURL,
			Model:             cfg.AIModel,
			ModerationModel:   cfg.ModerationModel,
			MaxTokens:         cfg.AIMaxTokens,
			Temperature:       cfg.AITemperature,
			RequestsPerSecond: cfg.AIRequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			log.Fatalf("failed to create openai client: %v", err)
		}
		completer = client
		moderator = client
	} else {
		logger.Warn().Msg("openai api key missing, rubric grading and content checks will report DependencyUnavailable")
	}

	retry := grading.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
		Jitter:    0.2,
	}

	var verdicts grading.VerdictCache
	locker := service.NewLocalResponseLocker()
	if redisClient != nil {
		verdicts = service.NewModerationCache(redisClient, cfg.EventsChannel, cfg.ModerationCacheTTL)
		locker = service.NewRedisResponseLocker(redisClient, cfg.EventsChannel, cfg.ResponseLockTTL, logger)
	}

	gate := grading.NewSafetyGate(moderator, verdicts, grading.SafetyGateConfig{
		Timeout: cfg.ModerationTimeout,
		Retry:   retry,
	}, logger)
	resolver := grading.NewResolver(
		grading.NewChoiceGrader(),
		grading.NewRubricAdapter(completer, grading.RubricConfig{
			Timeout:        cfg.GradingTimeout,
			OutputAttempts: cfg.GradingOutputAttempts,
			Retry:          retry,
		}, logger),
	)

	validate := validator.New(validator.WithRequiredStructEnabled())

	questionRepo := repository.NewQuestionRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	events := service.NewGradingEventPublisher(redisClient, cfg.EventsChannel, natsConn, logger)

	gradingService := service.NewGradingService(questionRepo, submissionRepo, resolver, gate, locker, events, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, events, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GradingTimeout*time.Duration(cfg.GradingOutputAttempts) + cfg.ModerationTimeout + 15*time.Second,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler:    handler.NewGradingHandler(gradingService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		HealthProbes:      probes,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		GradeRateLimit:    middleware.RateLimit("grade", cfg.GradeRateLimit, cfg.GradeRateWindow),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

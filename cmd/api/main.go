package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/config"
	"github.com/evo-learning/assess-api/internal/database"
	"github.com/evo-learning/assess-api/internal/handler"
	"github.com/evo-learning/assess-api/internal/middleware"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
	"github.com/evo-learning/assess-api/internal/router"
	"github.com/evo-learning/assess-api/internal/service"
	"github.com/evo-learning/assess-api/pkg/ai"
	"github.com/evo-learning/assess-api/pkg/blobstore"
	"github.com/evo-learning/assess-api/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Tag{},
		&models.Exercise{},
		&models.ExerciseChoice{},
		&models.ExerciseTestCase{},
		&models.EventTemplate{},
		&models.EventTemplateRule{},
		&models.EventTemplateRuleClause{},
		&models.Event{},
		&models.EventInstance{},
		&models.EventInstanceSlot{},
		&models.EventParticipation{},
		&models.SubmissionSlot{},
		&models.AssessmentSlot{},
		&models.EditLock{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	uploader, err := blobstore.New(blobstore.Config{
		Root:    cfg.AttachmentRoot,
		BaseURL: cfg.AttachmentURL,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create attachment store: %v", err)
	}

	runner, err := buildRunner(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create sandbox runner: %v", err)
	}

	advisor := buildAdvisor(cfg, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	eventRepo := repository.NewEventRepository(db)
	exerciseRepo := repository.NewExerciseRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)
	participationRepo := repository.NewParticipationRepository(db)
	userRepo := repository.NewUserRepository(db)
	lockRepo := repository.NewLockRepository(db)

	pickerService := service.NewPickerService(exerciseRepo, logger)
	participationService := service.NewParticipationService(eventRepo, instanceRepo, participationRepo, userRepo, pickerService, redisClient, cfg.InstanceCacheTTL, logger)
	submissionService := service.NewSubmissionService(participationRepo, participationService, uploader, logger)
	gradingService := service.NewGradingService(participationRepo, advisor, logger)
	lockService := service.NewLockService(lockRepo, logger)
	executionService := service.NewExecutionService(participationRepo, participationService, runner, natsConn, cfg.ExecutionWorkers, logger)
	defer executionService.Close()

	participationHandler := handler.NewParticipationHandler(participationService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, validate, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, validate, logger)
	executionHandler := handler.NewExecutionHandler(executionService, logger)
	lockHandler := handler.NewLockHandler(lockService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ParticipationHandler: participationHandler,
		SubmissionHandler:    submissionHandler,
		GradingHandler:       gradingHandler,
		ExecutionHandler:     executionHandler,
		LockHandler:          lockHandler,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

// buildRunner assembles the execution backends: the HTTP compile service for
// compiled languages and the Docker batch runner for interpreted ones.
func buildRunner(cfg config.Config, logger zerolog.Logger) (sandbox.Runner, error) {
	compile := sandbox.NewCompileRunner(cfg.SandboxURL, cfg.ExecutionTimeout, logger)
	batch, err := sandbox.NewBatchRunner(sandbox.BatchRunnerConfig{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return sandbox.NewClient(compile, batch, logger), nil
}

func buildAdvisor(cfg config.Config, logger zerolog.Logger) ai.Advisor {
	switch cfg.AIProvider {
	case "openai":
		advisor, err := ai.NewOpenAIAdvisor(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err != nil {
			logger.Warn().Err(err).Msg("openai advisor disabled")
			return nil
		}
		return advisor
	case "anthropic":
		advisor, err := ai.NewAnthropicAdvisor(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			logger.Warn().Err(err).Msg("anthropic advisor disabled")
			return nil
		}
		return advisor
	default:
		return nil
	}
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

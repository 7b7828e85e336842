package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	agentpkg "github.com/scriptreel/api/internal/agent"
	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/handler"
	"github.com/scriptreel/api/internal/middleware"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/runner"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/store"
	"github.com/scriptreel/api/internal/worker"
	ws "github.com/scriptreel/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize external clients
	llmClient := client.NewLLMClient(&cfg.LLM)
	sourceClient := client.NewSourceClient(&cfg.Sources)

	// Initialize R2 client (optional - continues if not configured)
	var archiveClient client.ArchiveClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			archiveClient = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, archiving disabled")
	}

	// Initialize stores
	itemStore := store.NewItemStore(redisClient)
	scriptStore := store.NewScriptStore(redisClient)
	usageStore := store.NewUsageStore(redisClient)
	profileStore := store.NewProfileStore(redisClient)
	eventLog := store.NewEventLog(redisClient)

	// Initialize WebSocket hub with durable replay
	hub := ws.NewHub(eventLog)
	go hub.Run()

	// Event bus: live fan-out to the hub plus the durable log
	bus := events.NewBus()
	bus.Subscribe(hub.Broadcast)
	bus.Subscribe(func(ev model.StageEvent) {
		if ev.ItemID == "" {
			return
		}
		if err := eventLog.Append(context.Background(), ev); err != nil {
			log.Printf("Failed to log event for item %s: %v", ev.ItemID, err)
		}
	})

	// Initialize stage agents
	agents := pipeline.Agents{
		Scorer:    agentpkg.NewScorerAgent(llmClient, cfg.Pipeline.ScoreThreshold),
		Analyst:   agentpkg.NewAnalystAgent(llmClient, cfg.Pipeline.MinFacts),
		Architect: agentpkg.NewArchitectAgent(llmClient),
		Writer:    agentpkg.NewWriterAgent(llmClient),
		QC:        agentpkg.NewQCAgent(llmClient),
		Optimizer: agentpkg.NewOptimizerAgent(llmClient),
		Gate:      agentpkg.NewGateAgent(),
		Delivery:  agentpkg.NewDeliveryAgent(scriptStore, usageStore, archiveClient),
	}
	scoutAgent := agentpkg.NewScoutAgent(sourceClient, archiveClient,
		cfg.Sources.MinContentLen, time.Duration(cfg.Sources.MaxAgeHours)*time.Hour)

	// Initialize pipeline core
	orchestrator := pipeline.NewOrchestrator(itemStore, scriptStore, usageStore, profileStore, bus, agents, cfg.Pipeline)
	revisionProc := pipeline.NewRevisionProcessor(itemStore, scriptStore, cfg.Pipeline.RevisionCap)
	batchRunner := runner.New(itemStore, usageStore, profileStore, scoutAgent, orchestrator, bus, cfg.Pipeline, cfg.Runner.Interval)

	// Initialize services
	pipelineService := service.NewPipelineService(itemStore, usageStore, asynqClient, orchestrator, cfg.Pipeline)
	scriptService := service.NewScriptService(scriptStore, usageStore, revisionProc, pipelineService)

	// Initialize handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	scriptHandler := handler.NewScriptHandler(scriptService, validate)
	authHandler := handler.NewAuthHandler(cfg.JWT.Secret)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":     llmClient.IsConfigured(),
				"sources": sourceClient.IsConfigured(),
				"r2":      archiveClient != nil,
				"auth":    cfg.JWT.Secret != "",
				"runner":  cfg.Runner.Enabled,
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Pipeline routes
	pipe := api.Group("/pipeline")
	pipe.Post("/batch", rateLimiter.BatchLimit(cfg.RateLimit.BatchPerHour), pipelineHandler.TriggerBatch)
	pipe.Post("/items", rateLimiter.ProcessLimit(cfg.RateLimit.ProcessPerHour), pipelineHandler.ProcessItem)
	pipe.Get("/items", pipelineHandler.ListItems)
	pipe.Get("/items/:id", pipelineHandler.GetStatus)
	pipe.Post("/items/:id/retry", pipelineHandler.Retry)
	pipe.Post("/items/:id/cancel", pipelineHandler.Cancel)

	// Script review routes
	scripts := api.Group("/scripts")
	scripts.Get("/", scriptHandler.List)
	scripts.Get("/:id", scriptHandler.Get)
	scripts.Post("/:id/approve", scriptHandler.Approve)
	scripts.Post("/:id/reject", scriptHandler.Reject)
	scripts.Post("/:id/revise", rateLimiter.RevisionLimit(cfg.RateLimit.RevisionPerHour), scriptHandler.RequestRevision)
	scripts.Post("/:id/reset-revision", scriptHandler.ResetRevision)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/items/:itemId", websocket.New(func(c *websocket.Conn) {
		itemID := c.Params("itemId")
		userID := c.Query("userId")
		hub.HandleConnection(c, userID, itemID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, orchestrator, batchRunner)

	// Start the scheduled runner
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	if cfg.Runner.Enabled {
		go batchRunner.Start(runnerCtx)
	} else {
		log.Println("Info: scheduled runner disabled")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopRunner()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, orch *pipeline.Orchestrator, batchRunner *runner.Runner) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	pipelineWorker := worker.NewPipelineWorker(orch, batchRunner)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeProcess, pipelineWorker.HandleProcess)
	mux.HandleFunc(service.TaskTypeRevision, pipelineWorker.HandleRevision)
	mux.HandleFunc(service.TaskTypeBatch, pipelineWorker.HandleBatch)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}

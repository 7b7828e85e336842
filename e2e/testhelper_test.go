package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scriptreel/api/internal/auth"
	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/events"
	"github.com/scriptreel/api/internal/handler"
	"github.com/scriptreel/api/internal/middleware"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/store"

	agentpkg "github.com/scriptreel/api/internal/agent"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	items   *store.ItemStore
	scripts *store.ScriptStore
	orch    *pipeline.Orchestrator
}

// setupApp creates a Fiber app mirroring main.go wiring, with unconfigured
// external clients so every agent uses its mock fallback. Requires a local
// Redis; DB 15 is flushed per test run.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := redisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush test db: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// Unconfigured clients → mock fallbacks everywhere
	llmClient := client.NewLLMClient(&config.LLMConfig{})

	pipeCfg := config.PipelineConfig{
		ScoreThreshold:    70,
		MinFacts:          3,
		MaxOptimizeIters:  2,
		RevisionCap:       5,
		RetryCap:          3,
		StuckTimeout:      60 * time.Minute,
		LLMCallCost:       0.02,
		EstimatedItemCost: 0.12,
		DailyItemCap:      100,
		MonthlyBudget:     1000,
	}

	itemStore := store.NewItemStore(redisClient)
	scriptStore := store.NewScriptStore(redisClient)
	usageStore := store.NewUsageStore(redisClient)
	profileStore := store.NewProfileStore(redisClient)

	bus := events.NewBus()

	agents := pipeline.Agents{
		Scorer:    agentpkg.NewScorerAgent(llmClient, pipeCfg.ScoreThreshold),
		Analyst:   agentpkg.NewAnalystAgent(llmClient, pipeCfg.MinFacts),
		Architect: agentpkg.NewArchitectAgent(llmClient),
		Writer:    agentpkg.NewWriterAgent(llmClient),
		QC:        agentpkg.NewQCAgent(llmClient),
		Optimizer: agentpkg.NewOptimizerAgent(llmClient),
		Gate:      agentpkg.NewGateAgent(),
		Delivery:  agentpkg.NewDeliveryAgent(scriptStore, usageStore, nil),
	}

	orch := pipeline.NewOrchestrator(itemStore, scriptStore, usageStore, profileStore, bus, agents, pipeCfg)
	revisionProc := pipeline.NewRevisionProcessor(itemStore, scriptStore, pipeCfg.RevisionCap)

	pipelineService := service.NewPipelineService(itemStore, usageStore, asynqClient, orch, pipeCfg)
	scriptService := service.NewScriptService(scriptStore, usageStore, revisionProc, pipelineService)

	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	scriptHandler := handler.NewScriptHandler(scriptService, validate)
	authHandler := handler.NewAuthHandler(testJWTSecret)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret, time.Hour)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":     false,
				"sources": false,
				"r2":      false,
				"auth":    true,
				"runner":  false,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high rate limits so tests don't get blocked
	pipe := api.Group("/pipeline")
	pipe.Post("/batch", rateLimiter.BatchLimit(10000), pipelineHandler.TriggerBatch)
	pipe.Post("/items", rateLimiter.ProcessLimit(10000), pipelineHandler.ProcessItem)
	pipe.Get("/items", pipelineHandler.ListItems)
	pipe.Get("/items/:id", pipelineHandler.GetStatus)
	pipe.Post("/items/:id/retry", pipelineHandler.Retry)
	pipe.Post("/items/:id/cancel", pipelineHandler.Cancel)

	scripts := api.Group("/scripts")
	scripts.Get("/", scriptHandler.List)
	scripts.Get("/:id", scriptHandler.Get)
	scripts.Post("/:id/approve", scriptHandler.Approve)
	scripts.Post("/:id/reject", scriptHandler.Reject)
	scripts.Post("/:id/revise", rateLimiter.RevisionLimit(10000), scriptHandler.RequestRevision)
	scripts.Post("/:id/reset-revision", scriptHandler.ResetRevision)

	return &testApp{
		app:     app,
		items:   itemStore,
		scripts: scriptStore,
		orch:    orch,
	}
}

// runItem drives an enqueued item through the pipeline inline, standing in
// for the asynq worker.
func runItem(t *testing.T, ta *testApp, itemID string) *model.PipelineItem {
	t.Helper()
	if err := ta.orch.ProcessItem(context.Background(), itemID); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	item, err := ta.items.Get(context.Background(), itemID)
	if err != nil {
		t.Fatalf("failed to load item after run: %v", err)
	}
	return item
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		UserID: testUserID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "scriptreel-api",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

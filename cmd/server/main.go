package main

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/crosspilot/crosspilot/configs"
	"github.com/crosspilot/crosspilot/internal/api/handlers"
	"github.com/crosspilot/crosspilot/internal/api/middleware"
	job "github.com/crosspilot/crosspilot/internal/jobs"
	"github.com/crosspilot/crosspilot/internal/queue"
	"github.com/crosspilot/crosspilot/internal/repository"
	"github.com/crosspilot/crosspilot/internal/service"
	"github.com/crosspilot/crosspilot/internal/vault"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	credentialVault, err := vault.New([]byte(cfg.SecretKey))
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewScheduledPostRepository(db)
	specRepo := repository.NewPlatformSpecRepository(db)
	recordRepo := repository.NewPublishRecordRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	registry := service.NewRegistry(
		service.NewTiktokService(),
		service.NewMetaService(*cfg),
		service.NewYoutubeService(),
		service.NewLinkedinService(),
	)

	r2Service := service.NewR2Service(*cfg)
	scheduler := queue.NewScheduler(client, inspector, cfg.FailedJobThreshold)
	postService := service.NewPostService(db, postRepo, specRepo, recordRepo, credentialVault, scheduler, registry)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	health := handlers.NewHealthHandler(scheduler)
	app.Get("/health", health.GetHealth)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/schedule", post.SchedulePost)
	api.Post("/posts/reschedule", post.ReschedulePost)
	api.Post("/posts/cancel", post.CancelPost)
	api.Post("/posts/:id/publish_now", post.PublishNow)
	api.Get("/posts/:id/status", post.GetStatus)
	api.Get("/posts", post.ListPosts)

	// worker
	queueW := queue.NewQueue(postRepo, specRepo, recordRepo, credentialVault, registry, r2Service, scheduler)

	// cron jobs
	sweepJob := job.NewPublishSweepJob(postRepo, queueW)

	c := cron.New()
	c.AddFunc("@every 00h01m00s", sweepJob.SweepDuePosts)
	c.AddFunc("@every 01h00m00s", scheduler.CleanupExpired)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				queue.PublishQueue: 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return time.Duration(math.Pow(2, float64(n))) * time.Second
			},
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(cfg.APIAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.APIAddr)

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/handlers"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Wire the pipeline
	bus := services.NewProgressBus()
	queue := services.NewJobQueue(bus)
	handlers.Init(bus, queue)

	// Start GC scheduler
	cleanupCron := utils.StartCleanupScheduler(queue.Sweep, bus.Sweep)
	defer cleanupCron.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:       "Media Downloader Go",
		ServerHeader:  "media-downloader-go",
		CaseSensitive: true,
		StrictRouting: false,
		// Disable body limit for media streaming
		BodyLimit: 0,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	if config.IsProduction() {
		app.Use(requireOrigin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins(),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Accept",
		ExposeHeaders: "X-Download-Id,X-Job-Id," +
			"X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
	}))

	// Global rate limit; the push stream and queue polling are exempt
	app.Use(limiter.New(limiter.Config{
		Max:               config.GlobalRateLimitMax,
		Expiration:        15 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return strings.HasPrefix(path, "/progress") ||
				strings.HasPrefix(path, "/queue") ||
				path == "/health"
		},
	}))

	// Analysis
	app.Post("/analyze", rateLimit(config.AnalyzeRateLimitMax, 15*time.Minute), handlers.HandleAnalyze)
	app.Post("/analyze/batch", rateLimit(config.AnalyzeRateLimitMax, 15*time.Minute), handlers.HandleAnalyzeBatch)

	// Queue
	app.Post("/queue/download", handlers.HandleQueueDownload)
	app.Post("/queue/convert", handlers.HandleQueueConvert)
	app.Get("/queue", rateLimit(config.QueueStatusRateLimitMax, time.Minute), handlers.HandleQueueState)
	app.Get("/queue/:id", rateLimit(config.QueueStatusRateLimitMax, time.Minute), handlers.HandleGetJob)
	app.Post("/queue/:id/cancel", handlers.HandleCancelJob)

	// Streaming
	app.Get("/download", rateLimit(config.DownloadRateLimitMax, time.Hour), handlers.HandleDownload)
	app.Post("/convert", rateLimit(config.ConvertRateLimitMax, time.Hour), handlers.HandleConvert)

	// Progress push stream
	app.Get("/progress/:id/status", handlers.HandleProgressStatus)
	app.Get("/progress/:id", handlers.HandleProgress)
	app.Post("/download/:id/cancel", handlers.HandleCancelDownload)

	// Image proxy
	app.Get("/proxy/image", handlers.HandleImageProxy)

	// Health check
	app.Get("/health", handlers.HandleHealth)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error shutting down: %v\n", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%d", config.Port)
	log.Printf("Starting server on http://localhost%s\n", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// rateLimit builds a per-endpoint sliding-window limiter keyed by client IP
func rateLimit(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        window,
		LimiterMiddleware: limiter.SlidingWindow{},
	})
}

// requireOrigin rejects cross-origin requests without an Origin header in
// production; health checks stay reachable for probes.
func requireOrigin(c *fiber.Ctx) error {
	if c.Path() == "/health" {
		return c.Next()
	}
	if c.Get(fiber.HeaderOrigin) == "" {
		return utils.Error(c, fiber.StatusForbidden, utils.ErrInvalidRequest, "Origin header is required")
	}
	return c.Next()
}

// allowedOrigins assembles the CORS allow list for the current mode
func allowedOrigins() string {
	origins := config.AllowedOrigins
	if !config.IsProduction() {
		origins = append(origins, config.DevOrigins...)
	}
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}

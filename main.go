package main

import (
	"context"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"reputly/automation"
	"reputly/config"
	"reputly/middleware"
	"reputly/routes"
	"reputly/utils"
	"reputly/worker"
)

func main() {
	logger := log.New(os.Stdout, "REPUTLY: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	clock := utils.RealClock{}

	var metrics automation.MetricsSink = automation.NoopMetrics{}
	if config.AppConfig.Redis.Enabled {
		metrics = automation.NewRedisMetrics(config.AppConfig.Redis)
	}

	// Channel adapters for outbound messages
	senderLog := logrus.New()
	channelSender := utils.NewChannelSender(
		utils.NewEmailSender(config.AppConfig.SMTP, senderLog),
		utils.NewSMSSender(config.AppConfig.SMS, senderLog),
	)

	// Trigger evaluator runs in the request path of incoming events
	trigger := automation.NewTriggerEvaluator(config.DB, metrics, clock,
		log.New(os.Stdout, "TRIGGER: ", log.LstdFlags))

	// Start the step dispatch worker
	dispatchWorker := worker.NewDispatchWorker(config.DB, channelSender, metrics, clock,
		log.New(os.Stdout, "DISPATCH: ", log.LstdFlags), config.AppConfig.Dispatcher)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatchWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, trigger)

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

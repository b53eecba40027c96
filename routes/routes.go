package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"reputly/automation"
	controller "reputly/controllers"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, trigger *automation.TriggerEvaluator) {
	organizationController := controller.NewOrganizationController(db, log.New(os.Stdout, "ORG: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	eventController := controller.NewEventController(db, trigger, log.New(os.Stdout, "EVENT: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, trigger, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Tenant provisioning
	api.Post("/organizations", organizationController.CreateOrganization)

	// Sequence configuration
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id/active", sequenceController.SetSequenceActive)

	// Execution audit + cancellation
	execution := api.Group("/executions")
	execution.Get("/:id", sequenceController.GetExecution)
	execution.Post("/:id/cancel", sequenceController.CancelExecution)

	// Collaborator event intake
	event := api.Group("/events")
	event.Post("/customer-created", eventController.HandleCustomerCreated)
	event.Post("/service-completed", eventController.HandleServiceCompleted)
	event.Post("/review-completed", eventController.HandleReviewCompleted)

	// External webhook surfaces
	webhook := app.Group("/webhooks", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhook.Post("/trigger/:key", webhookController.HandleTriggerWebhook)
	webhook.Post("/delivery", webhookController.HandleDeliveryWebhook)

	log.Println("Routes initialized successfully")
}

package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reputly/automation"
	"reputly/models"
)

type WebhookController struct {
	DB      *gorm.DB
	Trigger *automation.TriggerEvaluator
	Logger  *log.Logger
}

func NewWebhookController(db *gorm.DB, trigger *automation.TriggerEvaluator, logger *log.Logger) *WebhookController {
	return &WebhookController{DB: db, Trigger: trigger, Logger: logger}
}

// HandleTriggerWebhook fires webhook sequences configured for the key in the
// URL. The payload is passed through to eligibility evaluation.
func (wc *WebhookController) HandleTriggerWebhook(c *fiber.Ctx) error {
	key := c.Params("key")

	var input struct {
		CustomerID uint                   `json:"customer_id"`
		Payload    map[string]interface{} `json:"payload"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := wc.Trigger.OnWebhook(key, input.CustomerID, input.Payload); err != nil {
		wc.Logger.Printf("Webhook %q failed: %v", key, err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Customer not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Webhook processed"})
}

// HandleDeliveryWebhook processes async delivery confirmations from the
// channel providers, matched to the step by message id.
func (wc *WebhookController) HandleDeliveryWebhook(c *fiber.Ctx) error {
	var input struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"` // delivered, bounced
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var step models.StepExecution
	if err := wc.DB.Where("message_id = ?", input.MessageID).First(&step).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Step not found",
		})
	}

	if input.Status == "delivered" {
		deliveredAt := time.Now()
		if input.Timestamp > 0 {
			deliveredAt = time.Unix(input.Timestamp, 0)
		}
		step.MarkDelivered(deliveredAt)

		err := wc.DB.Model(&models.StepExecution{}).
			Where("id = ? AND status = ?", step.ID, models.StepSent).
			Updates(map[string]interface{}{
				"status":  step.Status,
				"sent_at": step.SentAt,
			}).Error
		if err != nil {
			wc.Logger.Printf("Failed to mark step %d delivered: %v", step.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update step",
			})
		}
	}

	return c.JSON(fiber.Map{"message": "Delivery status processed"})
}

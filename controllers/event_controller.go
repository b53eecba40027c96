package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reputly/automation"
	"reputly/models"
	"reputly/utils"
)

// EventController is the intake for collaborator notifications: the CRUD
// side of the product posts here when something automation should react to
// happens.
type EventController struct {
	DB      *gorm.DB
	Trigger *automation.TriggerEvaluator
	Logger  *log.Logger
	Clock   utils.Clock
}

func NewEventController(db *gorm.DB, trigger *automation.TriggerEvaluator, logger *log.Logger) *EventController {
	return &EventController{DB: db, Trigger: trigger, Logger: logger, Clock: utils.RealClock{}}
}

// HandleCustomerCreated fires customer_created sequences.
func (ec *EventController) HandleCustomerCreated(c *fiber.Ctx) error {
	var input struct {
		CustomerID uint `json:"customer_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var customer models.Customer
	if err := ec.DB.First(&customer, input.CustomerID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Customer not found",
		})
	}

	ec.Trigger.OnCustomerCreated(&customer)
	return c.JSON(fiber.Map{"message": "Event processed"})
}

// HandleServiceCompleted fires service_completed sequences.
func (ec *EventController) HandleServiceCompleted(c *fiber.Ctx) error {
	var input struct {
		CustomerID  uint   `json:"customer_id"`
		ServiceType string `json:"service_type"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var customer models.Customer
	if err := ec.DB.First(&customer, input.CustomerID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Customer not found",
		})
	}

	ec.Trigger.OnServiceCompleted(&customer, input.ServiceType)
	return c.JSON(fiber.Map{"message": "Event processed"})
}

// HandleReviewCompleted records the review and ends the outreach for it.
func (ec *EventController) HandleReviewCompleted(c *fiber.Ctx) error {
	var input struct {
		ReviewRequestID uint   `json:"review_request_id"`
		Platform        string `json:"platform"`
		Rating          *int   `json:"rating"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var reviewRequest models.ReviewRequest
	if err := ec.DB.First(&reviewRequest, input.ReviewRequestID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Review request not found",
		})
	}

	now := ec.Clock.Now()
	err := ec.DB.Model(&reviewRequest).Updates(map[string]interface{}{
		"status":          models.ReviewRequestCompleted,
		"completed_at":    now,
		"review_platform": input.Platform,
		"review_rating":   input.Rating,
	}).Error
	if err != nil {
		ec.Logger.Printf("Failed to complete review request %d: %v", reviewRequest.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update review request",
		})
	}

	ec.Trigger.OnReviewCompleted(&reviewRequest)
	return c.JSON(fiber.Map{"message": "Event processed"})
}

package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reputly/automation"
	"reputly/models"
	"reputly/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Clock  utils.Clock
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger, Clock: utils.RealClock{}}
}

type createSequenceInput struct {
	OrganizationID uint                   `json:"organization_id" validate:"required"`
	Name           string                 `json:"name" validate:"required"`
	Description    string                 `json:"description"`
	TriggerType    string                 `json:"trigger_type" validate:"required,oneof=customer_created service_completed review_completed webhook"`
	TriggerConfig  map[string]interface{} `json:"trigger_config"`
	Conditions     map[string]interface{} `json:"conditions"`
	Steps          []models.SequenceStep  `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequence creates a sequence with its steps. Step numbers must be
// dense from 1; email steps must carry a subject.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input createSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence := models.Sequence{
		OrganizationID: input.OrganizationID,
		Name:           input.Name,
		Description:    input.Description,
		IsActive:       true,
		TriggerType:    input.TriggerType,
		TriggerConfig:  input.TriggerConfig,
		Conditions:     input.Conditions,
	}
	for _, step := range input.Steps {
		step.IsActive = true
		if err := sequence.AddStep(step); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	if err := sc.DB.Create(&sequence).Error; err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sequence)
}

// GetSequences lists an organization's sequences with their steps.
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	orgID := utils.ParseUint(c.Query("organization_id"))
	if orgID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "organization_id is required",
		})
	}

	var sequences []models.Sequence
	err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Where("organization_id = ?", orgID).Find(&sequences).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}

	return c.JSON(sequences)
}

// GetSequence returns one sequence with steps and rendered delay summaries.
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&sequence, c.Params("id")).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	delays := make([]string, 0, len(sequence.Steps))
	for i := range sequence.Steps {
		delays = append(delays, sequence.Steps[i].DelayDescription())
	}

	return c.JSON(fiber.Map{
		"sequence":           sequence,
		"delay_descriptions": delays,
	})
}

// SetSequenceActive soft-enables or soft-disables a sequence. Sequences are
// never hard-deleted while executions reference them.
func (sc *SequenceController) SetSequenceActive(c *fiber.Ctx) error {
	var input struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result := sc.DB.Model(&models.Sequence{}).
		Where("id = ?", c.Params("id")).
		Update("is_active", input.IsActive)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Sequence updated"})
}

// GetExecution returns one execution with its step history.
func (sc *SequenceController) GetExecution(c *fiber.Ctx) error {
	var execution models.SequenceExecution
	err := sc.DB.Preload("StepExecutions", func(db *gorm.DB) *gorm.DB {
		return db.Order("scheduled_at ASC")
	}).First(&execution, c.Params("id")).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Execution not found",
		})
	}
	return c.JSON(execution)
}

// CancelExecution cancels a running execution and skips its pending steps.
func (sc *SequenceController) CancelExecution(c *fiber.Ctx) error {
	var execution models.SequenceExecution
	if err := sc.DB.First(&execution, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Execution not found",
		})
	}
	if execution.IsTerminal() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Execution is already finished",
		})
	}

	if err := automation.CancelExecution(sc.DB, execution.ID, sc.Clock.Now()); err != nil {
		sc.Logger.Printf("Failed to cancel execution %d: %v", execution.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel execution",
		})
	}

	return c.JSON(fiber.Map{"message": "Execution cancelled"})
}

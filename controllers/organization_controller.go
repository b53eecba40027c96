package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reputly/models"
	"reputly/utils"
)

type OrganizationController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewOrganizationController(db *gorm.DB, logger *log.Logger) *OrganizationController {
	return &OrganizationController{DB: db, Logger: logger}
}

type createOrganizationInput struct {
	Name     string `json:"name" validate:"required"`
	Slug     string `json:"slug" validate:"required"`
	Timezone string `json:"timezone"`
}

// CreateOrganization provisions a tenant and seeds its stock review-request
// sequence so outreach works out of the box.
func (oc *OrganizationController) CreateOrganization(c *fiber.Ctx) error {
	var input createOrganizationInput
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

	org := models.Organization{
		Name:     input.Name,
		Slug:     input.Slug,
		Timezone: input.Timezone,
		IsActive: true,
	}
	if err := oc.DB.Create(&org).Error; err != nil {
		oc.Logger.Printf("Failed to create organization: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create organization",
		})
	}

	if err := models.CreateDefaultSequence(oc.DB, org.ID); err != nil {
		oc.Logger.Printf("Failed to seed default sequence for organization %d: %v", org.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(org)
}

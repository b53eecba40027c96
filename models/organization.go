package models

import (
	"gorm.io/gorm"
)

// Organization represents a tenant account
type Organization struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex" json:"slug"`

	// Settings
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Businesses []Business `gorm:"foreignKey:OrganizationID" json:"businesses,omitempty"`
	Sequences  []Sequence `gorm:"foreignKey:OrganizationID" json:"sequences,omitempty"`
}

// Business represents a single location/brand under an organization
type Business struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name     string `gorm:"not null" json:"name"`
	Industry string `json:"industry"`
	Website  string `json:"website"`
	Phone    string `json:"phone"`

	// Review destinations
	GoogleReviewURL   string `json:"google_review_url"`
	FacebookReviewURL string `json:"facebook_review_url"`

	IsActive bool `gorm:"default:true" json:"is_active"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// ReviewRequest statuses
const (
	ReviewRequestPending   = "pending"
	ReviewRequestCompleted = "completed"
	ReviewRequestExpired   = "expired"
)

// ReviewRequest is the entity a sequence execution is bound to: one ask,
// for one customer, to leave a review for one business.
type ReviewRequest struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	BusinessID     uint `gorm:"not null;index" json:"business_id"`
	CustomerID     uint `gorm:"not null;index" json:"customer_id"`

	Status      string     `gorm:"not null;default:'pending';index" json:"status"`
	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Where the review landed, filled in on completion
	ReviewPlatform string `json:"review_platform"` // google, facebook, direct
	ReviewRating   *int   `json:"review_rating"`

	// Relations
	Customer Customer `json:"-"`
}

package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Customer represents a business's end customer targeted by outreach
type Customer struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	BusinessID     uint `gorm:"not null;index" json:"business_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`
	Phone     string `json:"phone"`

	// What service they received, used by eligibility allow-lists
	ServiceType    string `json:"service_type"`
	DeliveryMethod string `json:"delivery_method"` // email, sms, both

	// Status
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	Source      string     `json:"source"` // manual, csv, api, webhook
	LastContact *time.Time `json:"last_contact"`
}

// HasEmail reports whether the customer has a usable email address.
func (c *Customer) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}

// HasPhone reports whether the customer has a usable phone number.
func (c *Customer) HasPhone() bool {
	return strings.TrimSpace(c.Phone) != ""
}

// FullName joins first and last name, tolerating either being blank.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

package automation

import (
	"reputly/models"
)

// TriggerContext carries everything a trigger evaluation needs about the
// event: who it concerns and any event-specific data.
type TriggerContext struct {
	Customer     *models.Customer
	Organization *models.Organization
	Business     *models.Business

	// Set when the event concerns an existing review request
	ReviewRequest *models.ReviewRequest

	// Webhook events only
	WebhookKey string

	// Event-specific key/values: service_type, delivery_method, payload
	Data map[string]interface{}
}

// ServiceType returns the event's service type, falling back to the
// customer's recorded one.
func (tc *TriggerContext) ServiceType() string {
	if tc.Data != nil {
		if v, ok := tc.Data["service_type"].(string); ok && v != "" {
			return v
		}
	}
	if tc.Customer != nil {
		return tc.Customer.ServiceType
	}
	return ""
}

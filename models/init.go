package models

import "gorm.io/gorm"

// Migrate creates/updates all automation engine tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{},
		&Business{},
		&Customer{},
		&ReviewRequest{},
		&Sequence{},
		&SequenceStep{},
		&SequenceExecution{},
		&StepExecution{},
	)
}

// CreateDefaultSequence seeds the stock review-request sequence for a new
// organization: email right away, SMS nudge a day later, final email after
// three more days.
func CreateDefaultSequence(db *gorm.DB, organizationID uint) error {
	defaultSequence := Sequence{
		OrganizationID: organizationID,
		Name:           "Review Request",
		Description:    "Default review request outreach",
		IsDefault:      true,
		IsActive:       true,
		TriggerType:    TriggerServiceCompleted,
		Steps: []SequenceStep{
			{
				StepNumber:      1,
				DelayHours:      0,
				Channel:         ChannelEmail,
				SubjectTemplate: "How was your experience with {{business_name}}?",
				BodyTemplate:    "Hi {{first_name}}, thanks for choosing {{business_name}}! Would you take a minute to leave us a review? {{review_link}}",
				IsActive:        true,
			},
			{
				StepNumber:   2,
				DelayHours:   24,
				Channel:      ChannelSMS,
				BodyTemplate: "Hi {{first_name}}, this is {{business_name}}. We'd love your feedback: {{review_link}}",
				IsActive:     true,
			},
			{
				StepNumber:      3,
				DelayHours:      72,
				Channel:         ChannelEmail,
				SubjectTemplate: "A quick favor, {{first_name}}?",
				BodyTemplate:    "Hi {{first_name}}, just a last reminder - your review helps {{business_name}} a lot. {{review_link}}",
				IsActive:        true,
			},
		},
	}

	return db.FirstOrCreate(&defaultSequence,
		"organization_id = ? AND is_default = ?", organizationID, true).Error
}

package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Message channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Trigger types a sequence can be bound to
const (
	TriggerCustomerCreated  = "customer_created"
	TriggerServiceCompleted = "service_completed"
	TriggerReviewCompleted  = "review_completed"
	TriggerWebhook          = "webhook"
)

// Sequence represents an automated outreach sequence owned by an organization
type Sequence struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `gorm:"default:false" json:"is_default"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// What fires this sequence and for whom
	TriggerType   string                 `gorm:"not null;index" json:"trigger_type"`
	TriggerConfig map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"trigger_config"`
	Conditions    map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"conditions"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep represents one templated step in a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int    `gorm:"not null" json:"step_number" validate:"required,min=1"`
	DelayHours int    `gorm:"not null" json:"delay_hours" validate:"min=0"`
	Channel    string `gorm:"not null" json:"channel" validate:"required,oneof=email sms"`

	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `gorm:"type:text" json:"body_template" validate:"required"`
	IsActive        bool   `gorm:"default:true" json:"is_active"`

	// Tracking (denormalized)
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// RequiresSubject reports whether the step's channel needs a subject line.
func (s *SequenceStep) RequiresSubject() bool {
	return s.Channel == ChannelEmail
}

// DelayDescription renders the step delay in a human-readable way.
func (s *SequenceStep) DelayDescription() string {
	if s.DelayHours == 0 {
		return "Immediately"
	}
	if s.DelayHours < 24 {
		if s.DelayHours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", s.DelayHours)
	}
	days := s.DelayHours / 24
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// Validate checks a single step is internally consistent.
func (s *SequenceStep) Validate() error {
	if s.StepNumber < 1 {
		return fmt.Errorf("step number must be at least 1")
	}
	if s.DelayHours < 0 {
		return fmt.Errorf("step %d: delay hours cannot be negative", s.StepNumber)
	}
	if s.Channel != ChannelEmail && s.Channel != ChannelSMS {
		return fmt.Errorf("step %d: unknown channel %q", s.StepNumber, s.Channel)
	}
	if s.BodyTemplate == "" {
		return fmt.Errorf("step %d: body template is required", s.StepNumber)
	}
	if s.RequiresSubject() && s.SubjectTemplate == "" {
		return fmt.Errorf("step %d: subject template is required for email steps", s.StepNumber)
	}
	return nil
}

// AddStep appends a step, enforcing dense numbering from 1 with no gaps.
func (q *Sequence) AddStep(step SequenceStep) error {
	if step.StepNumber != len(q.Steps)+1 {
		return fmt.Errorf("expected step number %d, got %d", len(q.Steps)+1, step.StepNumber)
	}
	if err := step.Validate(); err != nil {
		return err
	}
	q.Steps = append(q.Steps, step)
	return nil
}

// StepCount returns the number of steps in the sequence.
func (q *Sequence) StepCount() int {
	return len(q.Steps)
}

// HasSteps reports whether the sequence has any steps at all.
func (q *Sequence) HasSteps() bool {
	return len(q.Steps) > 0
}

// StepAt returns the step with the given number, or nil.
func (q *Sequence) StepAt(number int) *SequenceStep {
	for i := range q.Steps {
		if q.Steps[i].StepNumber == number {
			return &q.Steps[i]
		}
	}
	return nil
}

// Validate checks the whole sequence: step numbers must form 1..N.
func (q *Sequence) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("sequence name is required")
	}
	seen := make(map[int]bool, len(q.Steps))
	for i := range q.Steps {
		if err := q.Steps[i].Validate(); err != nil {
			return err
		}
		if seen[q.Steps[i].StepNumber] {
			return fmt.Errorf("duplicate step number %d", q.Steps[i].StepNumber)
		}
		seen[q.Steps[i].StepNumber] = true
	}
	for n := 1; n <= len(q.Steps); n++ {
		if !seen[n] {
			return fmt.Errorf("step numbers must be contiguous from 1, missing %d", n)
		}
	}
	return nil
}

// WebhookKeys returns the configured webhook keys as a list. The config value
// is either a single string or a list of strings; anything else yields nil.
func (q *Sequence) WebhookKeys() []string {
	if q.TriggerConfig == nil {
		return nil
	}
	raw, ok := q.TriggerConfig["webhook_keys"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

// MatchesWebhookKey reports whether the sequence is configured for the key.
func (q *Sequence) MatchesWebhookKey(key string) bool {
	for _, k := range q.WebhookKeys() {
		if k == key {
			return true
		}
	}
	return false
}

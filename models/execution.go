package models

import (
	"time"

	"gorm.io/gorm"
)

// Execution statuses. Terminal statuses are one-way: once an execution is
// completed, cancelled or failed it never becomes active again.
const (
	ExecutionActive    = "active"
	ExecutionCompleted = "completed"
	ExecutionCancelled = "cancelled"
	ExecutionFailed    = "failed"
)

// Step execution statuses. "sending" is the claimed state: a dispatcher has
// taken the step and is attempting delivery.
const (
	StepPending   = "pending"
	StepSending   = "sending"
	StepSent      = "sent"
	StepDelivered = "delivered"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// SequenceExecution is one run of a sequence for one review request.
// Created by the trigger evaluator, mutated only by the dispatcher,
// never deleted.
type SequenceExecution struct {
	gorm.Model
	ReviewRequestID uint `gorm:"not null;index" json:"review_request_id"`
	SequenceID      uint `gorm:"not null;index" json:"sequence_id"`
	CustomerID      uint `gorm:"not null;index" json:"customer_id"`
	OrganizationID  uint `gorm:"not null;index" json:"organization_id"`

	CurrentStep int        `gorm:"not null;default:1" json:"current_step"`
	Status      string     `gorm:"not null;default:'active';index" json:"status"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	StepExecutions []StepExecution `gorm:"foreignKey:ExecutionID" json:"step_executions,omitempty"`
}

// IsTerminal reports whether the execution has reached a final status.
func (e *SequenceExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionCancelled, ExecutionFailed:
		return true
	}
	return false
}

// MarkCompleted transitions to completed. Returns false if the execution is
// already terminal; an existing CompletedAt is never overwritten.
func (e *SequenceExecution) MarkCompleted(now time.Time) bool {
	return e.finish(ExecutionCompleted, now)
}

// MarkFailed transitions to failed. No-op on an already-terminal execution.
func (e *SequenceExecution) MarkFailed(now time.Time) bool {
	return e.finish(ExecutionFailed, now)
}

// MarkCancelled transitions to cancelled. No-op on an already-terminal execution.
func (e *SequenceExecution) MarkCancelled(now time.Time) bool {
	return e.finish(ExecutionCancelled, now)
}

func (e *SequenceExecution) finish(status string, now time.Time) bool {
	if e.IsTerminal() {
		return false
	}
	e.Status = status
	e.CompletedAt = &now
	return true
}

// StepExecution is one scheduled message within an execution.
type StepExecution struct {
	gorm.Model
	ExecutionID uint `gorm:"not null;index" json:"execution_id"`
	StepNumber  int  `gorm:"not null" json:"step_number"`

	ScheduledAt time.Time  `gorm:"not null;index" json:"scheduled_at"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	SentAt      *time.Time `json:"sent_at"`

	Status       string `gorm:"not null;default:'pending';index" json:"status"`
	AttemptCount int    `gorm:"default:0" json:"attempt_count"`
	ErrorMessage string `json:"error_message"`

	// Provider message id, used to match async delivery callbacks
	MessageID string `gorm:"index" json:"message_id"`
}

// IsDue reports whether the step is pending and its scheduled time has passed.
func (s *StepExecution) IsDue(now time.Time) bool {
	return s.Status == StepPending && !s.ScheduledAt.After(now)
}

// MarkSent records a successful send. SentAt is set only on first transition.
func (s *StepExecution) MarkSent(now time.Time) {
	s.Status = StepSent
	if s.SentAt == nil {
		s.SentAt = &now
	}
}

// MarkDelivered records confirmed delivery. Reached either directly from a
// synchronous-confirming sender or later via a delivery callback.
func (s *StepExecution) MarkDelivered(now time.Time) {
	s.Status = StepDelivered
	if s.SentAt == nil {
		s.SentAt = &now
	}
}

// MarkFailed records a delivery failure with its reason. Retry scheduling is
// a dispatcher decision, not a step-level one.
func (s *StepExecution) MarkFailed(reason string) {
	s.Status = StepFailed
	s.ErrorMessage = reason
}

// MarkSkipped is used when a step is intentionally bypassed, e.g. the owning
// execution was cancelled before the step came due.
func (s *StepExecution) MarkSkipped() {
	s.Status = StepSkipped
}

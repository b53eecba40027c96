package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionTerminalTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	execution := SequenceExecution{Status: ExecutionActive}
	assert.False(t, execution.IsTerminal())

	require.True(t, execution.MarkCompleted(now))
	assert.Equal(t, ExecutionCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, now, *execution.CompletedAt)
	assert.True(t, execution.IsTerminal())

	// Terminal is one-way: a later mark must not change anything
	later := now.Add(time.Hour)
	assert.False(t, execution.MarkFailed(later))
	assert.Equal(t, ExecutionCompleted, execution.Status)
	assert.Equal(t, now, *execution.CompletedAt)

	assert.False(t, execution.MarkCancelled(later))
	assert.Equal(t, ExecutionCompleted, execution.Status)
}

func TestExecutionMarkFailedAndCancelled(t *testing.T) {
	now := time.Now()

	failed := SequenceExecution{Status: ExecutionActive}
	require.True(t, failed.MarkFailed(now))
	assert.Equal(t, ExecutionFailed, failed.Status)
	assert.NotNil(t, failed.CompletedAt)

	cancelled := SequenceExecution{Status: ExecutionActive}
	require.True(t, cancelled.MarkCancelled(now))
	assert.Equal(t, ExecutionCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestStepIsDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := StepExecution{Status: StepPending, ScheduledAt: now.Add(-time.Minute)}
	assert.True(t, due.IsDue(now))

	exactlyNow := StepExecution{Status: StepPending, ScheduledAt: now}
	assert.True(t, exactlyNow.IsDue(now))

	future := StepExecution{Status: StepPending, ScheduledAt: now.Add(time.Minute)}
	assert.False(t, future.IsDue(now))

	sent := StepExecution{Status: StepSent, ScheduledAt: now.Add(-time.Hour)}
	assert.False(t, sent.IsDue(now))

	skipped := StepExecution{Status: StepSkipped, ScheduledAt: now.Add(-time.Hour)}
	assert.False(t, skipped.IsDue(now))
}

func TestStepMarkSentSetsSentAtOnce(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	step := StepExecution{Status: StepPending}
	step.MarkSent(now)
	assert.Equal(t, StepSent, step.Status)
	require.NotNil(t, step.SentAt)
	assert.Equal(t, now, *step.SentAt)

	// A later delivery confirmation upgrades status but keeps SentAt
	step.MarkDelivered(now.Add(time.Minute))
	assert.Equal(t, StepDelivered, step.Status)
	assert.Equal(t, now, *step.SentAt)
}

func TestStepMarkFailedAndSkipped(t *testing.T) {
	step := StepExecution{Status: StepSending}
	step.MarkFailed("smtp connection refused")
	assert.Equal(t, StepFailed, step.Status)
	assert.Equal(t, "smtp connection refused", step.ErrorMessage)
	assert.Nil(t, step.SentAt)

	skipped := StepExecution{Status: StepPending}
	skipped.MarkSkipped()
	assert.Equal(t, StepSkipped, skipped.Status)
}

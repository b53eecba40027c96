package worker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"reputly/automation"
	"reputly/config"
	"reputly/models"
	"reputly/utils"
)

var testDBCounter int64

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := fmt.Sprintf("file:worker_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

type fakeSender struct {
	sent     []utils.OutboundMessage
	failNext int
	status   string
}

func (f *fakeSender) Send(msg utils.OutboundMessage) (*utils.SendResult, error) {
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("provider unavailable")
	}
	f.sent = append(f.sent, msg)
	status := f.status
	if status == "" {
		status = utils.SendStatusSent
	}
	return &utils.SendResult{MessageID: fmt.Sprintf("msg-%d", len(f.sent)), Status: status}, nil
}

type dispatchRecord struct {
	channel string
	success bool
}

type fakeMetrics struct {
	dispatches []dispatchRecord
}

func (f *fakeMetrics) RecordTrigger(string, uint, bool) {}

func (f *fakeMetrics) RecordDispatch(channel string, success bool) {
	f.dispatches = append(f.dispatches, dispatchRecord{channel, success})
}

type fixture struct {
	db        *gorm.DB
	clock     *fakeClock
	sender    *fakeSender
	metrics   *fakeMetrics
	worker    *DispatchWorker
	customer  *models.Customer
	sequence  *models.Sequence
	execution *models.SequenceExecution
}

// newFixture seeds an active execution sitting on step 1 with the first step
// already due.
func newFixture(t *testing.T, steps []models.SequenceStep) *fixture {
	t.Helper()
	db := setupTestDB(t)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	sender := &fakeSender{}
	metrics := &fakeMetrics{}

	org := models.Organization{Name: "Acme Plumbing", Slug: "acme", IsActive: true}
	require.NoError(t, db.Create(&org).Error)

	business := models.Business{
		OrganizationID:  org.ID,
		Name:            "Acme Plumbing Downtown",
		GoogleReviewURL: "https://g.page/acme/review",
		IsActive:        true,
	}
	require.NoError(t, db.Create(&business).Error)

	customer := models.Customer{
		OrganizationID: org.ID,
		BusinessID:     business.ID,
		FirstName:      "Dana",
		LastName:       "Reyes",
		Email:          "dana@example.com",
		Phone:          "+15551234567",
		ServiceType:    "plumbing",
	}
	require.NoError(t, db.Create(&customer).Error)

	sequence := models.Sequence{
		OrganizationID: org.ID,
		Name:           "Review Request",
		IsActive:       true,
		TriggerType:    models.TriggerServiceCompleted,
		Steps:          steps,
	}
	require.NoError(t, db.Create(&sequence).Error)

	reviewRequest := models.ReviewRequest{
		OrganizationID: org.ID,
		BusinessID:     business.ID,
		CustomerID:     customer.ID,
		Status:         models.ReviewRequestPending,
		RequestedAt:    clock.Now(),
	}
	require.NoError(t, db.Create(&reviewRequest).Error)

	execution := models.SequenceExecution{
		ReviewRequestID: reviewRequest.ID,
		SequenceID:      sequence.ID,
		CustomerID:      customer.ID,
		OrganizationID:  org.ID,
		CurrentStep:     1,
		Status:          models.ExecutionActive,
		StartedAt:       clock.Now(),
	}
	require.NoError(t, db.Create(&execution).Error)

	require.NoError(t, db.Create(&models.StepExecution{
		ExecutionID: execution.ID,
		StepNumber:  1,
		ScheduledAt: clock.Now(),
		Status:      models.StepPending,
	}).Error)

	worker := NewDispatchWorker(db, sender, metrics, clock,
		log.New(os.Stdout, "DISPATCH-TEST: ", log.LstdFlags),
		config.DispatcherConfig{
			PollInterval: time.Minute,
			BatchSize:    10,
			WorkerCount:  1,
			MaxAttempts:  3,
			BackoffBase:  5 * time.Minute,
			StuckAfter:   10 * time.Minute,
		})

	return &fixture{
		db: db, clock: clock, sender: sender, metrics: metrics, worker: worker,
		customer: &customer, sequence: &sequence, execution: &execution,
	}
}

func twoStepSequence() []models.SequenceStep {
	return []models.SequenceStep{
		{StepNumber: 1, DelayHours: 0, Channel: models.ChannelEmail,
			SubjectTemplate: "How was it, {{first_name}}?", BodyTemplate: "Review us: {{review_link}}", IsActive: true},
		{StepNumber: 2, DelayHours: 24, Channel: models.ChannelSMS,
			BodyTemplate: "Reminder for {{full_name}}", IsActive: true},
	}
}

func (fx *fixture) reloadExecution(t *testing.T) *models.SequenceExecution {
	t.Helper()
	var execution models.SequenceExecution
	require.NoError(t, fx.db.First(&execution, fx.execution.ID).Error)
	return &execution
}

func (fx *fixture) stepByNumber(t *testing.T, stepNumber int) *models.StepExecution {
	t.Helper()
	var step models.StepExecution
	require.NoError(t, fx.db.Where("execution_id = ? AND step_number = ?",
		fx.execution.ID, stepNumber).First(&step).Error)
	return &step
}

func TestRunCycleSendsAndAdvances(t *testing.T) {
	fx := newFixture(t, twoStepSequence())

	fx.worker.RunCycle()

	require.Len(t, fx.sender.sent, 1)
	msg := fx.sender.sent[0]
	assert.Equal(t, models.ChannelEmail, msg.Channel)
	assert.Equal(t, "dana@example.com", msg.To)
	assert.Equal(t, "How was it, Dana?", msg.Subject)
	assert.Equal(t, "Review us: https://g.page/acme/review", msg.Body)

	sent := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, 1, sent.AttemptCount)
	assert.NotEmpty(t, sent.MessageID)

	execution := fx.reloadExecution(t)
	assert.Equal(t, 2, execution.CurrentStep)
	assert.Equal(t, models.ExecutionActive, execution.Status)

	// Next step's delay is anchored at the dispatch time
	next := fx.stepByNumber(t, 2)
	assert.Equal(t, models.StepPending, next.Status)
	assert.WithinDuration(t, fx.clock.Now().Add(24*time.Hour), next.ScheduledAt, time.Second)

	require.Len(t, fx.metrics.dispatches, 1)
	assert.Equal(t, dispatchRecord{models.ChannelEmail, true}, fx.metrics.dispatches[0])

	// Template bookkeeping
	var template models.SequenceStep
	require.NoError(t, fx.db.Where("sequence_id = ? AND step_number = ?", fx.sequence.ID, 1).
		First(&template).Error)
	assert.Equal(t, 1, template.SentCount)
}

func TestDelayAnchoredAtSendTimeNotStart(t *testing.T) {
	fx := newFixture(t, twoStepSequence())

	// The worker gets to step 1 three hours late; step 2 is still a full
	// 24 hours after the actual send.
	fx.clock.Advance(3 * time.Hour)
	fx.worker.RunCycle()

	next := fx.stepByNumber(t, 2)
	assert.WithinDuration(t, fx.clock.Now().Add(24*time.Hour), next.ScheduledAt, time.Second)
}

func TestFinalStepCompletesExecution(t *testing.T) {
	fx := newFixture(t, []models.SequenceStep{
		{StepNumber: 1, DelayHours: 0, Channel: models.ChannelSMS,
			BodyTemplate: "One and done", IsActive: true},
	})

	fx.worker.RunCycle()

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.WithinDuration(t, fx.clock.Now(), *execution.CompletedAt, time.Second)

	var count int64
	require.NoError(t, fx.db.Model(&models.StepExecution{}).
		Where("execution_id = ?", fx.execution.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "no further steps scheduled")
}

func TestFullThreeStepRun(t *testing.T) {
	fx := newFixture(t, []models.SequenceStep{
		{StepNumber: 1, DelayHours: 0, Channel: models.ChannelEmail,
			SubjectTemplate: "Thanks!", BodyTemplate: "How did we do?", IsActive: true},
		{StepNumber: 2, DelayHours: 24, Channel: models.ChannelSMS,
			BodyTemplate: "Quick reminder", IsActive: true},
		{StepNumber: 3, DelayHours: 72, Channel: models.ChannelEmail,
			SubjectTemplate: "Last chance", BodyTemplate: "One more nudge", IsActive: true},
	})
	start := fx.clock.Now()

	fx.worker.RunCycle()
	require.Len(t, fx.sender.sent, 1)
	assert.WithinDuration(t, start.Add(24*time.Hour), fx.stepByNumber(t, 2).ScheduledAt, time.Second)

	// Nothing due yet
	fx.clock.Advance(12 * time.Hour)
	fx.worker.RunCycle()
	require.Len(t, fx.sender.sent, 1)

	fx.clock.Advance(12 * time.Hour)
	fx.worker.RunCycle()
	require.Len(t, fx.sender.sent, 2)
	assert.Equal(t, models.ChannelSMS, fx.sender.sent[1].Channel)
	assert.Equal(t, "+15551234567", fx.sender.sent[1].To)
	assert.WithinDuration(t, start.Add(96*time.Hour), fx.stepByNumber(t, 3).ScheduledAt, time.Second)

	fx.clock.Advance(72 * time.Hour)
	fx.worker.RunCycle()
	require.Len(t, fx.sender.sent, 3)

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, 3, execution.CurrentStep)
}

func TestStepsNotDueAreNotClaimed(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, fx.db.Model(&models.StepExecution{}).
		Where("execution_id = ?", fx.execution.ID).
		Update("scheduled_at", fx.clock.Now().Add(time.Hour)).Error)

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.StepPending, fx.stepByNumber(t, 1).Status)
}

func TestClaimIsExclusive(t *testing.T) {
	fx := newFixture(t, twoStepSequence())

	first := fx.worker.claimDueSteps()
	require.Len(t, first, 1)

	second := fx.worker.claimDueSteps()
	assert.Empty(t, second, "a claimed step must not be claimable again")
}

func TestRetryWithBackoffThenPermanentFailure(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	fx.sender.failNext = 3
	start := fx.clock.Now()

	// Attempt 1 fails: requeued with the base backoff
	fx.worker.RunCycle()
	step := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepPending, step.Status)
	assert.Equal(t, 1, step.AttemptCount)
	assert.Equal(t, "provider unavailable", step.ErrorMessage)
	assert.WithinDuration(t, start.Add(5*time.Minute), step.ScheduledAt, time.Second)

	// Attempt 2 fails: backoff doubles
	fx.clock.Advance(5 * time.Minute)
	fx.worker.RunCycle()
	step = fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepPending, step.Status)
	assert.Equal(t, 2, step.AttemptCount)
	assert.WithinDuration(t, fx.clock.Now().Add(10*time.Minute), step.ScheduledAt, time.Second)

	// Attempt 3 fails: budget spent, step and execution fail
	fx.clock.Advance(10 * time.Minute)
	fx.worker.RunCycle()
	step = fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.Equal(t, 3, step.AttemptCount)

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.NotNil(t, execution.CompletedAt)

	require.Len(t, fx.metrics.dispatches, 1)
	assert.Equal(t, dispatchRecord{models.ChannelEmail, false}, fx.metrics.dispatches[0])
}

func TestTransientFailureThenSuccess(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	fx.sender.failNext = 1

	fx.worker.RunCycle()
	require.Empty(t, fx.sender.sent)

	fx.clock.Advance(5 * time.Minute)
	fx.worker.RunCycle()

	require.Len(t, fx.sender.sent, 1)
	step := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepSent, step.Status)
	assert.Equal(t, 2, step.AttemptCount)

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionActive, execution.Status)
	assert.Equal(t, 2, execution.CurrentStep)
}

func TestCancelledExecutionSkipsClaimedStep(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, automation.CancelExecution(fx.db, fx.execution.ID, fx.clock.Now()))

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.StepSkipped, fx.stepByNumber(t, 1).Status)
}

func TestCancelAfterClaimStillSkips(t *testing.T) {
	fx := newFixture(t, twoStepSequence())

	claimed := fx.worker.claimDueSteps()
	require.Len(t, claimed, 1)
	require.NoError(t, automation.CancelExecution(fx.db, fx.execution.ID, fx.clock.Now()))

	fx.worker.processStep(claimed[0])

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.StepSkipped, fx.stepByNumber(t, 1).Status)
}

func TestUnsubscribedCustomerCancelsExecution(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, fx.db.Model(fx.customer).Update("is_unsubscribed", true).Error)

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.StepSkipped, fx.stepByNumber(t, 1).Status)

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionCancelled, execution.Status)
}

func TestDoNotContactCancelsExecution(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, fx.db.Model(fx.customer).Update("is_do_not_contact", true).Error)

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.ExecutionCancelled, fx.reloadExecution(t).Status)
}

func TestMissingChannelSkipsAndAdvances(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, fx.db.Model(fx.customer).Update("email", "").Error)

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, models.StepSkipped, fx.stepByNumber(t, 1).Status)

	execution := fx.reloadExecution(t)
	assert.Equal(t, models.ExecutionActive, execution.Status)
	assert.Equal(t, 2, execution.CurrentStep)
	assert.Equal(t, models.StepPending, fx.stepByNumber(t, 2).Status)

	// The SMS step still goes out
	fx.clock.Advance(24 * time.Hour)
	fx.worker.RunCycle()
	require.Len(t, fx.sender.sent, 1)
	assert.Equal(t, models.ChannelSMS, fx.sender.sent[0].Channel)
}

func TestMissingTemplateFailsExecution(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	require.NoError(t, fx.db.Model(&models.SequenceStep{}).
		Where("sequence_id = ? AND step_number = ?", fx.sequence.ID, 1).
		Update("is_active", false).Error)

	fx.worker.RunCycle()

	assert.Empty(t, fx.sender.sent)
	step := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.Contains(t, step.ErrorMessage, "no active template")
	assert.Equal(t, models.ExecutionFailed, fx.reloadExecution(t).Status)
}

func TestRequeueStuckSteps(t *testing.T) {
	fx := newFixture(t, twoStepSequence())

	claimed := fx.worker.claimDueSteps()
	require.Len(t, claimed, 1)

	// Not stuck yet
	fx.clock.Advance(5 * time.Minute)
	fx.worker.requeueStuckSteps()
	assert.Equal(t, models.StepSending, fx.stepByNumber(t, 1).Status)

	// Past the cutoff the step goes back to pending and is claimed again,
	// counting a fresh attempt.
	fx.clock.Advance(6 * time.Minute)
	fx.worker.RunCycle()

	require.Len(t, fx.sender.sent, 1)
	step := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepSent, step.Status)
	assert.Equal(t, 2, step.AttemptCount)
}

func TestDeliveredStatusRecorded(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	fx.sender.status = utils.SendStatusDelivered

	fx.worker.RunCycle()

	step := fx.stepByNumber(t, 1)
	assert.Equal(t, models.StepDelivered, step.Status)
	require.NotNil(t, step.SentAt)
}

func TestBatchSizeLimitsClaims(t *testing.T) {
	fx := newFixture(t, twoStepSequence())
	fx.worker.Config.BatchSize = 1

	// A second execution with its own due step
	other := models.SequenceExecution{
		ReviewRequestID: fx.execution.ReviewRequestID,
		SequenceID:      fx.sequence.ID,
		CustomerID:      fx.customer.ID,
		OrganizationID:  fx.customer.OrganizationID,
		CurrentStep:     1,
		Status:          models.ExecutionActive,
		StartedAt:       fx.clock.Now(),
	}
	require.NoError(t, fx.db.Create(&other).Error)
	require.NoError(t, fx.db.Create(&models.StepExecution{
		ExecutionID: other.ID,
		StepNumber:  1,
		ScheduledAt: fx.clock.Now(),
		Status:      models.StepPending,
	}).Error)

	claimed := fx.worker.claimDueSteps()
	assert.Len(t, claimed, 1)
}

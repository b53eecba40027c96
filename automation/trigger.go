package automation

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"reputly/models"
	"reputly/utils"
)

// TriggerEvaluator reacts to domain events by spawning sequence executions
// for every eligible active sequence of the organization. It runs in the
// caller's goroutine and never blocks on message delivery.
type TriggerEvaluator struct {
	DB      *gorm.DB
	Metrics MetricsSink
	Clock   utils.Clock
	Logger  *log.Logger
}

func NewTriggerEvaluator(db *gorm.DB, metrics MetricsSink, clock utils.Clock, logger *log.Logger) *TriggerEvaluator {
	return &TriggerEvaluator{
		DB:      db,
		Metrics: metrics,
		Clock:   clock,
		Logger:  logger,
	}
}

// HandleEvent evaluates all candidate sequences for the event. A failure on
// one candidate never prevents evaluation of the rest; every candidate
// records a trigger metric either way.
func (te *TriggerEvaluator) HandleEvent(triggerType string, tc *TriggerContext) {
	if tc.Customer == nil {
		te.Logger.Printf("Dropping %s event without a customer", triggerType)
		return
	}

	var candidates []models.Sequence
	err := te.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true).Order("step_number ASC")
		}).
		Where("organization_id = ? AND trigger_type = ? AND is_active = ?",
			tc.Customer.OrganizationID, triggerType, true).
		Find(&candidates).Error
	if err != nil {
		te.Logger.Printf("Error loading sequences for %s: %v", triggerType, err)
		return
	}

	for i := range candidates {
		seq := &candidates[i]

		if triggerType == models.TriggerWebhook && !seq.MatchesWebhookKey(tc.WebhookKey) {
			continue
		}

		err := te.evaluateCandidate(seq, tc)
		if err != nil {
			te.Logger.Printf("Sequence %d failed for %s event: %v", seq.ID, triggerType, err)
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("trigger_type", triggerType)
				scope.SetTag("sequence_id", fmt.Sprintf("%d", seq.ID))
				sentry.CaptureException(err)
			})
		}
		te.Metrics.RecordTrigger(triggerType, seq.ID, err == nil)
	}
}

// evaluateCandidate checks eligibility and schedules an execution for one
// sequence. Panics are contained here so a misbehaving candidate cannot take
// down its siblings.
func (te *TriggerEvaluator) evaluateCandidate(seq *models.Sequence, tc *TriggerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating sequence %d: %v", seq.ID, r)
		}
	}()

	if !seq.HasSteps() {
		te.Logger.Printf("Sequence %d has no active steps, skipping", seq.ID)
		return nil
	}

	eligible, err := EvaluateConditions(te.DB, seq, tc)
	if err != nil {
		return err
	}
	if !eligible {
		return nil
	}

	active, err := hasActiveExecution(te.DB, seq.ID, tc.Customer.ID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	return te.scheduleExecution(seq, tc)
}

// scheduleExecution creates the review request (unless the event already
// concerns one), the execution, and its first step in one transaction.
func (te *TriggerEvaluator) scheduleExecution(seq *models.Sequence, tc *TriggerContext) error {
	now := te.Clock.Now()
	firstStep := seq.StepAt(1)
	if firstStep == nil {
		return fmt.Errorf("sequence %d has no step 1", seq.ID)
	}

	return te.DB.Transaction(func(tx *gorm.DB) error {
		reviewRequest := tc.ReviewRequest
		if reviewRequest == nil {
			reviewRequest = &models.ReviewRequest{
				OrganizationID: tc.Customer.OrganizationID,
				BusinessID:     tc.Customer.BusinessID,
				CustomerID:     tc.Customer.ID,
				Status:         models.ReviewRequestPending,
				RequestedAt:    now,
			}
			if err := tx.Create(reviewRequest).Error; err != nil {
				return err
			}
		}

		execution := models.SequenceExecution{
			ReviewRequestID: reviewRequest.ID,
			SequenceID:      seq.ID,
			CustomerID:      tc.Customer.ID,
			OrganizationID:  tc.Customer.OrganizationID,
			CurrentStep:     1,
			Status:          models.ExecutionActive,
			StartedAt:       now,
		}
		if err := tx.Create(&execution).Error; err != nil {
			return err
		}

		stepExecution := models.StepExecution{
			ExecutionID: execution.ID,
			StepNumber:  1,
			ScheduledAt: now.Add(time.Duration(firstStep.DelayHours) * time.Hour),
			Status:      models.StepPending,
		}
		return tx.Create(&stepExecution).Error
	})
}

// OnCustomerCreated fires customer_created sequences for a new customer.
func (te *TriggerEvaluator) OnCustomerCreated(customer *models.Customer) {
	tc, err := te.buildContext(customer, nil)
	if err != nil {
		te.Logger.Printf("customer_created lookup failed: %v", err)
		return
	}
	te.HandleEvent(models.TriggerCustomerCreated, tc)
}

// OnServiceCompleted fires service_completed sequences after a job is done.
func (te *TriggerEvaluator) OnServiceCompleted(customer *models.Customer, serviceType string) {
	tc, err := te.buildContext(customer, map[string]interface{}{"service_type": serviceType})
	if err != nil {
		te.Logger.Printf("service_completed lookup failed: %v", err)
		return
	}
	te.HandleEvent(models.TriggerServiceCompleted, tc)
}

// OnReviewCompleted ends outreach for the fulfilled request and fires any
// review_completed sequences (thank-you follow-ups and the like).
func (te *TriggerEvaluator) OnReviewCompleted(reviewRequest *models.ReviewRequest) {
	if err := CancelExecutionsForReviewRequest(te.DB, reviewRequest.ID, te.Clock.Now()); err != nil {
		te.Logger.Printf("Failed to cancel executions for review request %d: %v", reviewRequest.ID, err)
	}

	var customer models.Customer
	if err := te.DB.First(&customer, reviewRequest.CustomerID).Error; err != nil {
		te.Logger.Printf("review_completed lookup failed for customer %d: %v", reviewRequest.CustomerID, err)
		return
	}

	tc, err := te.buildContext(&customer, nil)
	if err != nil {
		te.Logger.Printf("review_completed lookup failed: %v", err)
		return
	}
	tc.ReviewRequest = reviewRequest
	te.HandleEvent(models.TriggerReviewCompleted, tc)
}

// OnWebhook fires webhook sequences whose configured keys include the given
// key. A missing customer aborts this event only.
func (te *TriggerEvaluator) OnWebhook(key string, customerID uint, payload map[string]interface{}) error {
	var customer models.Customer
	if err := te.DB.First(&customer, customerID).Error; err != nil {
		return fmt.Errorf("customer %d not found for webhook %q: %w", customerID, key, err)
	}

	data := map[string]interface{}{"payload": payload}
	if v, ok := payload["service_type"].(string); ok {
		data["service_type"] = v
	}

	tc, err := te.buildContext(&customer, data)
	if err != nil {
		return err
	}
	tc.WebhookKey = key
	te.HandleEvent(models.TriggerWebhook, tc)
	return nil
}

// buildContext loads the read-only organization/business views for an event.
func (te *TriggerEvaluator) buildContext(customer *models.Customer, data map[string]interface{}) (*TriggerContext, error) {
	var org models.Organization
	if err := te.DB.First(&org, customer.OrganizationID).Error; err != nil {
		return nil, fmt.Errorf("organization %d not found: %w", customer.OrganizationID, err)
	}

	tc := &TriggerContext{
		Customer:     customer,
		Organization: &org,
		Data:         data,
	}

	var business models.Business
	if err := te.DB.First(&business, customer.BusinessID).Error; err == nil {
		tc.Business = &business
	}

	return tc, nil
}

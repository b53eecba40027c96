package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"reputly/automation"
	"reputly/config"
	"reputly/models"
	"reputly/utils"
)

// DispatchWorker is the recurring process that sends due sequence steps and
// advances their executions. Multiple instances may run concurrently: the
// claim is a conditional status update, so a step can only ever be taken
// once.
type DispatchWorker struct {
	DB      *gorm.DB
	Sender  utils.MessageSender
	Metrics automation.MetricsSink
	Clock   utils.Clock
	Logger  *log.Logger
	Config  config.DispatcherConfig
}

func NewDispatchWorker(db *gorm.DB, sender utils.MessageSender, metrics automation.MetricsSink,
	clock utils.Clock, logger *log.Logger, cfg config.DispatcherConfig) *DispatchWorker {
	return &DispatchWorker{
		DB:      db,
		Sender:  sender,
		Metrics: metrics,
		Clock:   clock,
		Logger:  logger,
		Config:  cfg,
	}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	// Let the server finish starting up before the first poll
	time.Sleep(5 * time.Second)

	dw.Logger.Println("Dispatch worker started")

	ticker := time.NewTicker(dw.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Println("Dispatch worker shutting down...")
			return
		case <-ticker.C:
			dw.RunCycle()
		}
	}
}

// RunCycle performs one poll: requeue anything stuck, claim a batch of due
// steps, and fan them out to a bounded pool of send workers.
func (dw *DispatchWorker) RunCycle() {
	dw.requeueStuckSteps()

	claimed := dw.claimDueSteps()
	if len(claimed) == 0 {
		return
	}
	dw.Logger.Printf("Claimed %d due steps", len(claimed))

	jobs := make(chan uint)
	var wg sync.WaitGroup

	workers := dw.Config.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stepID := range jobs {
				dw.processStep(stepID)
			}
		}()
	}

	for _, stepID := range claimed {
		jobs <- stepID
	}
	close(jobs)
	wg.Wait()
}

// claimDueSteps atomically flips due pending steps to sending. Each claim is
// a single conditional UPDATE checked via RowsAffected, so two concurrent
// dispatchers can never take the same step.
func (dw *DispatchWorker) claimDueSteps() []uint {
	now := dw.Clock.Now()

	var due []uint
	err := dw.DB.Model(&models.StepExecution{}).
		Where("status = ? AND scheduled_at <= ?", models.StepPending, now).
		Order("scheduled_at ASC").
		Limit(dw.Config.BatchSize).
		Pluck("id", &due).Error
	if err != nil {
		dw.Logger.Printf("Error finding due steps: %v", err)
		return nil
	}

	claimed := make([]uint, 0, len(due))
	for _, stepID := range due {
		result := dw.DB.Model(&models.StepExecution{}).
			Where("id = ? AND status = ?", stepID, models.StepPending).
			Updates(map[string]interface{}{
				"status":        models.StepSending,
				"claimed_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if result.Error != nil {
			dw.Logger.Printf("Error claiming step %d: %v", stepID, result.Error)
			continue
		}
		if result.RowsAffected == 1 {
			claimed = append(claimed, stepID)
		}
	}
	return claimed
}

// requeueStuckSteps returns steps that were claimed but never finished (a
// dispatcher crash between claim and completion) back to pending.
func (dw *DispatchWorker) requeueStuckSteps() {
	cutoff := dw.Clock.Now().Add(-dw.Config.StuckAfter)

	result := dw.DB.Model(&models.StepExecution{}).
		Where("status = ? AND claimed_at < ?", models.StepSending, cutoff).
		Update("status", models.StepPending)
	if result.Error != nil {
		dw.Logger.Printf("Error requeueing stuck steps: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		dw.Logger.Printf("Requeued %d stuck steps", result.RowsAffected)
	}
}

// processStep handles one claimed step end-to-end.
func (dw *DispatchWorker) processStep(stepID uint) {
	var step models.StepExecution
	if err := dw.DB.First(&step, stepID).Error; err != nil {
		dw.Logger.Printf("Claimed step %d not found: %v", stepID, err)
		return
	}

	var execution models.SequenceExecution
	if err := dw.DB.First(&execution, step.ExecutionID).Error; err != nil {
		dw.Logger.Printf("Execution %d not found for step %d: %v", step.ExecutionID, stepID, err)
		return
	}

	// The execution may have been cancelled after the step was claimed
	if execution.IsTerminal() {
		dw.skipStep(&step)
		return
	}

	var sequence models.Sequence
	err := dw.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true).Order("step_number ASC")
		}).
		First(&sequence, execution.SequenceID).Error
	if err != nil {
		dw.failStep(&step, &execution, fmt.Sprintf("sequence %d not found", execution.SequenceID), "")
		return
	}

	template := sequence.StepAt(step.StepNumber)
	if template == nil {
		dw.failStep(&step, &execution, fmt.Sprintf("no active template for step %d", step.StepNumber), "")
		return
	}

	var customer models.Customer
	if err := dw.DB.First(&customer, execution.CustomerID).Error; err != nil {
		dw.failStep(&step, &execution, fmt.Sprintf("customer %d not found", execution.CustomerID), "")
		return
	}

	// Opt-outs after scheduling end the whole execution
	if customer.IsUnsubscribed || customer.IsDoNotContact {
		dw.skipStep(&step)
		if err := automation.CancelExecution(dw.DB, execution.ID, dw.Clock.Now()); err != nil {
			dw.Logger.Printf("Failed to cancel execution %d: %v", execution.ID, err)
		}
		return
	}

	recipient := utils.Recipient(template.Channel, &customer)
	if recipient == "" {
		// Channel missing for this customer: bypass the step, keep going
		dw.skipStep(&step)
		dw.advance(&execution, &sequence, step.StepNumber)
		return
	}

	var business *models.Business
	var reviewRequest models.ReviewRequest
	if err := dw.DB.First(&reviewRequest, execution.ReviewRequestID).Error; err == nil {
		var b models.Business
		if err := dw.DB.First(&b, reviewRequest.BusinessID).Error; err == nil {
			business = &b
		}
	}

	fields := utils.MergeFields(&customer, business)
	result, sendErr := dw.Sender.Send(utils.OutboundMessage{
		Channel: template.Channel,
		To:      recipient,
		Subject: utils.RenderTemplate(template.SubjectTemplate, fields),
		Body:    utils.RenderTemplate(template.BodyTemplate, fields),
	})

	if sendErr != nil {
		dw.handleSendFailure(&step, &execution, template.Channel, sendErr)
		return
	}

	dw.handleSendSuccess(&step, &execution, &sequence, template, result)
}

func (dw *DispatchWorker) handleSendSuccess(step *models.StepExecution, execution *models.SequenceExecution,
	sequence *models.Sequence, template *models.SequenceStep, result *utils.SendResult) {
	now := dw.Clock.Now()

	status := models.StepSent
	if result.Status == utils.SendStatusDelivered {
		status = models.StepDelivered
	}

	err := dw.DB.Model(&models.StepExecution{}).
		Where("id = ? AND status = ?", step.ID, models.StepSending).
		Updates(map[string]interface{}{
			"status":     status,
			"sent_at":    now,
			"message_id": result.MessageID,
		}).Error
	if err != nil {
		dw.Logger.Printf("Failed to record send for step %d: %v", step.ID, err)
		return
	}

	if err := dw.DB.Model(&models.SequenceStep{}).
		Where("id = ?", template.ID).
		Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		dw.Logger.Printf("Failed to bump sent count for template %d: %v", template.ID, err)
	}

	dw.Metrics.RecordDispatch(template.Channel, true)
	dw.advance(execution, sequence, step.StepNumber)
}

// advance either schedules the next step (anchored at the current dispatch
// time, not the execution start) or completes the execution when the
// dispatched step was the last one.
func (dw *DispatchWorker) advance(execution *models.SequenceExecution, sequence *models.Sequence, fromStep int) {
	now := dw.Clock.Now()

	next := sequence.StepAt(fromStep + 1)
	if next == nil {
		dw.completeExecution(execution, now)
		return
	}

	err := dw.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SequenceExecution{}).
			Where("id = ? AND status = ?", execution.ID, models.ExecutionActive).
			Update("current_step", fromStep+1)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Execution went terminal between send and advance; do not
			// schedule anything further.
			return nil
		}

		return tx.Create(&models.StepExecution{
			ExecutionID: execution.ID,
			StepNumber:  fromStep + 1,
			ScheduledAt: now.Add(time.Duration(next.DelayHours) * time.Hour),
			Status:      models.StepPending,
		}).Error
	})
	if err != nil {
		dw.Logger.Printf("Failed to advance execution %d: %v", execution.ID, err)
	}
}

func (dw *DispatchWorker) completeExecution(execution *models.SequenceExecution, now time.Time) {
	err := dw.DB.Model(&models.SequenceExecution{}).
		Where("id = ? AND status = ?", execution.ID, models.ExecutionActive).
		Updates(map[string]interface{}{
			"status":       models.ExecutionCompleted,
			"completed_at": now,
		}).Error
	if err != nil {
		dw.Logger.Printf("Failed to complete execution %d: %v", execution.ID, err)
		return
	}
	dw.Logger.Printf("Execution %d completed", execution.ID)
}

// handleSendFailure retries with exponential backoff until the attempt
// budget is spent, then fails the step and its execution for good.
func (dw *DispatchWorker) handleSendFailure(step *models.StepExecution, execution *models.SequenceExecution, channel string, sendErr error) {
	now := dw.Clock.Now()
	dw.Logger.Printf("Send failed for step %d (attempt %d/%d): %v",
		step.ID, step.AttemptCount, dw.Config.MaxAttempts, sendErr)

	if step.AttemptCount < dw.Config.MaxAttempts {
		backoff := dw.Config.BackoffBase * time.Duration(1<<(step.AttemptCount-1))
		err := dw.DB.Model(&models.StepExecution{}).
			Where("id = ? AND status = ?", step.ID, models.StepSending).
			Updates(map[string]interface{}{
				"status":        models.StepPending,
				"scheduled_at":  now.Add(backoff),
				"error_message": sendErr.Error(),
			}).Error
		if err != nil {
			dw.Logger.Printf("Failed to requeue step %d: %v", step.ID, err)
		}
		return
	}

	dw.failStep(step, execution, sendErr.Error(), channel)
}

// failStep marks the step failed and fails the owning execution so no
// further steps are scheduled.
func (dw *DispatchWorker) failStep(step *models.StepExecution, execution *models.SequenceExecution, reason string, channel string) {
	now := dw.Clock.Now()

	err := dw.DB.Model(&models.StepExecution{}).
		Where("id = ? AND status = ?", step.ID, models.StepSending).
		Updates(map[string]interface{}{
			"status":        models.StepFailed,
			"error_message": reason,
		}).Error
	if err != nil {
		dw.Logger.Printf("Failed to mark step %d failed: %v", step.ID, err)
	}

	err = dw.DB.Model(&models.SequenceExecution{}).
		Where("id = ? AND status = ?", execution.ID, models.ExecutionActive).
		Updates(map[string]interface{}{
			"status":       models.ExecutionFailed,
			"completed_at": now,
		}).Error
	if err != nil {
		dw.Logger.Printf("Failed to mark execution %d failed: %v", execution.ID, err)
	}

	if channel != "" {
		dw.Metrics.RecordDispatch(channel, false)
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("execution_id", fmt.Sprintf("%d", execution.ID))
		scope.SetTag("step_number", fmt.Sprintf("%d", step.StepNumber))
		sentry.CaptureException(fmt.Errorf("step %d failed permanently: %s", step.ID, reason))
	})
}

// skipStep transitions a claimed step to skipped.
func (dw *DispatchWorker) skipStep(step *models.StepExecution) {
	err := dw.DB.Model(&models.StepExecution{}).
		Where("id = ? AND status = ?", step.ID, models.StepSending).
		Update("status", models.StepSkipped).Error
	if err != nil {
		dw.Logger.Printf("Failed to skip step %d: %v", step.ID, err)
	}
}

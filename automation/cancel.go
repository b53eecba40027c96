package automation

import (
	"time"

	"gorm.io/gorm"

	"reputly/models"
)

// CancelExecution cancels one execution and skips its pending steps so the
// dispatcher never sends an orphaned message. Already-terminal executions
// are left untouched.
func CancelExecution(db *gorm.DB, executionID uint, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SequenceExecution{}).
			Where("id = ? AND status = ?", executionID, models.ExecutionActive).
			Updates(map[string]interface{}{
				"status":       models.ExecutionCancelled,
				"completed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.StepExecution{}).
			Where("execution_id = ? AND status = ?", executionID, models.StepPending).
			Update("status", models.StepSkipped).Error
	})
}

// CancelExecutionsForReviewRequest cancels every active execution bound to a
// review request, e.g. once the customer has left their review.
func CancelExecutionsForReviewRequest(db *gorm.DB, reviewRequestID uint, now time.Time) error {
	var executions []models.SequenceExecution
	if err := db.Where("review_request_id = ? AND status = ?",
		reviewRequestID, models.ExecutionActive).Find(&executions).Error; err != nil {
		return err
	}

	for _, execution := range executions {
		if err := CancelExecution(db, execution.ID, now); err != nil {
			return err
		}
	}
	return nil
}

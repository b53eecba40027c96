package automation

import (
	"errors"
	"fmt"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"reputly/models"
)

// ErrInvalidConditions marks malformed eligibility configuration. Callers
// treat it as "not eligible" and never propagate it past the candidate.
var ErrInvalidConditions = errors.New("invalid eligibility conditions")

// EvaluateConditions checks a customer against a sequence's eligibility
// conditions. Recognized keys: has_email, has_phone, service_types,
// max_executions_per_customer. Unknown keys are ignored. No conditions
// configured means always eligible.
func EvaluateConditions(db *gorm.DB, seq *models.Sequence, tc *TriggerContext) (bool, error) {
	if len(seq.Conditions) == 0 {
		return true, nil
	}
	customer := tc.Customer

	for key, raw := range seq.Conditions {
		switch key {
		case "has_email":
			required, ok := raw.(bool)
			if !ok {
				return false, fmt.Errorf("%w: has_email must be a boolean", ErrInvalidConditions)
			}
			if required {
				if !customer.HasEmail() {
					return false, nil
				}
				if err := checkmail.ValidateFormat(customer.Email); err != nil {
					return false, nil
				}
			}

		case "has_phone":
			required, ok := raw.(bool)
			if !ok {
				return false, fmt.Errorf("%w: has_phone must be a boolean", ErrInvalidConditions)
			}
			if required && !customer.HasPhone() {
				return false, nil
			}

		case "service_types":
			allowed, err := stringList(raw)
			if err != nil {
				return false, fmt.Errorf("%w: service_types must be a list of strings", ErrInvalidConditions)
			}
			if len(allowed) > 0 && !contains(allowed, tc.ServiceType()) {
				return false, nil
			}

		case "max_executions_per_customer":
			cap, ok := intValue(raw)
			if !ok || cap < 0 {
				return false, fmt.Errorf("%w: max_executions_per_customer must be a non-negative integer", ErrInvalidConditions)
			}
			var count int64
			if err := db.Model(&models.SequenceExecution{}).
				Where("customer_id = ? AND sequence_id = ?", customer.ID, seq.ID).
				Count(&count).Error; err != nil {
				return false, err
			}
			if count >= int64(cap) {
				return false, nil
			}
		}
	}

	return true, nil
}

// hasActiveExecution reports whether the customer already has a running
// execution of this sequence. Re-firing the same event must not double up.
func hasActiveExecution(db *gorm.DB, sequenceID, customerID uint) (bool, error) {
	var count int64
	err := db.Model(&models.SequenceExecution{}).
		Where("sequence_id = ? AND customer_id = ? AND status = ?",
			sequenceID, customerID, models.ExecutionActive).
		Count(&count).Error
	return count > 0, err
}

func stringList(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string list")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("not a string list")
}

func intValue(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

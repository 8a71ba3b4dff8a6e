package types

import "fmt"

// ValidationError rejects a submission synchronously at ingress; nothing
// is written to the store.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateKeyConflict is returned when an order_unique_key is resubmitted
// with a different payload. It carries the order that already owns the key.
type DuplicateKeyConflict struct {
	OrderUniqueKey  string `json:"order_unique_key"`
	ExistingOrderID string `json:"existing_order_id"`
}

func (e *DuplicateKeyConflict) Error() string {
	return fmt.Sprintf("order_unique_key %q already used by order %s with a different payload",
		e.OrderUniqueKey, e.ExistingOrderID)
}

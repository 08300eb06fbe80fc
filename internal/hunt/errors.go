package hunt

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyCompleted  = errors.New("already completed")
	ErrOutOfOrder        = errors.New("out of order")
	ErrValidation        = errors.New("validation error")
	ErrDependencyTimeout = errors.New("dependency unavailable")
)

// Reason explains why a scan was not accepted. Rejections carrying a Reason
// are game outcomes, not failures, and are returned without an error.
type Reason string

const (
	ReasonAlreadyCompleted Reason = "already_completed"
	ReasonOutOfOrder       Reason = "out_of_order"
	ReasonWrongType        Reason = "wrong_type"
)

// Err maps a reason onto the error taxonomy.
func (r Reason) Err() error {
	switch r {
	case ReasonAlreadyCompleted:
		return ErrAlreadyCompleted
	case ReasonOutOfOrder:
		return ErrOutOfOrder
	case ReasonWrongType:
		return ErrValidation
	}
	return nil
}

package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrImbalancedVoucher indicates total debit != total credit.
	ErrImbalancedVoucher = errors.New("ledger: voucher debit and credit totals differ")
	// ErrSessionClosed indicates a posting outside the open working day window.
	ErrSessionClosed = errors.New("ledger: branch session closed for this date")
	// ErrNoOpenSession indicates the branch has no open working day.
	ErrNoOpenSession = errors.New("ledger: branch has no open session")
	// ErrSlabNotFound indicates no interest tier matched the inputs.
	ErrSlabNotFound = errors.New("ledger: interest slab not found")
	// ErrDuplicateRule indicates a rule already exists for branch and product.
	ErrDuplicateRule = errors.New("ledger: rule already exists for branch and product")
	// ErrSessionConflict indicates an attempt to open a second current session.
	ErrSessionConflict = errors.New("ledger: branch session already open")
	// ErrStateTransition indicates an illegal status edge.
	ErrStateTransition = errors.New("ledger: invalid state transition")
	// ErrConcurrentModification indicates a lost race on a branch scoped counter or flag.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")
	// ErrStorage marks infrastructure failures.
	ErrStorage = errors.New("ledger: storage failure")
)

var businessErrors = []error{
	ErrNotFound,
	ErrValidation,
	ErrImbalancedVoucher,
	ErrSessionClosed,
	ErrNoOpenSession,
	ErrSlabNotFound,
	ErrDuplicateRule,
	ErrSessionConflict,
	ErrStateTransition,
	ErrConcurrentModification,
}

// StorageError wraps a persistence failure so it never reads as a business error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the driver error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage wraps err unless it is nil or already a business error.
func WrapStorage(op string, err error) error {
	if err == nil || IsBusiness(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsBusiness reports whether err belongs to the recoverable business taxonomy.
func IsBusiness(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Invalid builds a validation error with detail.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

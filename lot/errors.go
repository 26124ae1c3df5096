/*
errors.go - Typed failure reasons for every engine operation

PURPOSE:
  Every failure returns a typed reason so the caller can render an
  actionable message. Nothing here is fatal to the process and every
  failed operation leaves prior state untouched.

ERROR CATEGORIES:
  1. Lookup:     ErrNotFound
  2. Rules:      ErrInvalidTransition, ErrBlendMembershipConflict,
                 ErrBlendSourceUnavailable, ErrSourceNotActive,
                 ErrUnsupportedLotOperation, ErrLotCompleted
  3. Arithmetic: ErrSplitVolumeMismatch, ErrVolumeExceeded (soft)
  4. Input:      ErrInvalidArgument
  5. Storage:    ErrConcurrentModification, ErrDuplicateIdempotencyKey
  6. Vessels:    ErrVesselUnavailable

USAGE:
  Structured errors unwrap to their sentinel:

    var vx *lot.VolumeExceededError
    if errors.As(err, &vx) {
        // ask the operator to confirm vx.Requested against vx.Remaining
    }
    if errors.Is(err, lot.ErrNotFound) { ... }
*/
package lot

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrBlendMembershipConflict = errors.New("blend membership conflict")
	ErrBlendSourceUnavailable  = errors.New("blend source unavailable")
	ErrSplitVolumeMismatch     = errors.New("split volume mismatch")
	ErrSourceNotActive         = errors.New("source not active")
	ErrVolumeExceeded          = errors.New("volume exceeded")
	ErrLotCompleted            = errors.New("lot completed")
	ErrUnsupportedLotOperation = errors.New("unsupported lot operation")
	ErrInvalidArgument         = errors.New("invalid argument")

	// ErrConcurrentModification is returned when a lot's version moved
	// underneath an update.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by stores when a packaging run
	// with the same key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrVesselUnavailable = errors.New("vessel unavailable")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type NotFoundError struct {
	Kind string // "batch", "lot"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError reports a phase or status rule violation.
type TransitionError struct {
	Subject string // "lot", "batch"
	ID      string
	From    string
	To      string
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s: %s", e.Subject, e.ID, e.From, e.To, e.Reason)
}
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// BlendMembershipError is returned when a lot absorbed into a blend is
// targeted directly.
type BlendMembershipError struct {
	LotID      LotID
	BatchIDs   []BatchID
	BlendLotID LotID
}

func (e *BlendMembershipError) Error() string {
	return fmt.Sprintf("lot %s belongs to blend %s (batches %v); transition the blend lot instead",
		e.LotID, e.BlendLotID, e.BatchIDs)
}
func (e *BlendMembershipError) Unwrap() error { return ErrBlendMembershipConflict }

type BlendSourceError struct {
	BatchID BatchID
	Reason  string
}

func (e *BlendSourceError) Error() string {
	return fmt.Sprintf("batch %s cannot be blended: %s", e.BatchID, e.Reason)
}
func (e *BlendSourceError) Unwrap() error { return ErrBlendSourceUnavailable }

// SplitVolumeError reports allocation arithmetic that does not fit the source.
type SplitVolumeError struct {
	Source    decimal.Decimal
	Allocated decimal.Decimal
	Reason    string
}

func (e *SplitVolumeError) Error() string {
	return fmt.Sprintf("split volume mismatch: source %s L, allocated %s L: %s",
		e.Source.String(), e.Allocated.String(), e.Reason)
}
func (e *SplitVolumeError) Unwrap() error { return ErrSplitVolumeMismatch }

type SourceNotActiveError struct {
	BatchID BatchID
}

func (e *SourceNotActiveError) Error() string {
	return fmt.Sprintf("batch %s has no active lot", e.BatchID)
}
func (e *SourceNotActiveError) Unwrap() error { return ErrSourceNotActive }

// VolumeExceededError is a soft failure: the caller may confirm and retry
// with overshoot accepted.
type VolumeExceededError struct {
	LotID     LotID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *VolumeExceededError) Error() string {
	return fmt.Sprintf("packaging %s L exceeds remaining %s L in lot %s",
		e.Requested.String(), e.Remaining.String(), e.LotID)
}
func (e *VolumeExceededError) Unwrap() error { return ErrVolumeExceeded }

// Overshoot is how far the request goes past the remaining volume.
func (e *VolumeExceededError) Overshoot() decimal.Decimal {
	return e.Requested.Sub(e.Remaining)
}

type LotCompletedError struct {
	LotID LotID
}

func (e *LotCompletedError) Error() string { return fmt.Sprintf("lot %s is completed", e.LotID) }
func (e *LotCompletedError) Unwrap() error { return ErrLotCompleted }

type UnsupportedError struct {
	LotID     LotID
	Operation string
	Reason    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s not supported for lot %s: %s", e.Operation, e.LotID, e.Reason)
}
func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedLotOperation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing batch or lot.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to input the caller must
// correct.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBlendMembershipConflict) ||
		errors.Is(err, ErrBlendSourceUnavailable) ||
		errors.Is(err, ErrSplitVolumeMismatch) ||
		errors.Is(err, ErrSourceNotActive) ||
		errors.Is(err, ErrVolumeExceeded) ||
		errors.Is(err, ErrLotCompleted) ||
		errors.Is(err, ErrUnsupportedLotOperation) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrVesselUnavailable) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

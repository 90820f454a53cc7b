package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownConditionID = errors.New("unknown condition id")
	ErrReadFailure        = errors.New("chain read failed")
	ErrDecodeFailure      = errors.New("decode failed")
	ErrQueueFull          = errors.New("event queue full")
	ErrStoreClosed        = errors.New("store closed")
	ErrLockHeld           = errors.New("lock already held")
	ErrUnknownCall        = errors.New("unknown contract call")
)

// ReadError is a single failed or timed-out Chain Reader call.
type ReadError struct {
	Op  string // reader method, e.g. "BalanceOf"
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Op, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// Is makes every ReadError match ErrReadFailure.
func (e *ReadError) Is(target error) bool { return target == ErrReadFailure }

// DecodeError reports a padded on-chain text field that could not be decoded.
type DecodeError struct {
	Field string
	Raw   string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %v", e.Field, e.Raw, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match ErrDecodeFailure.
func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailure }

// EnrichmentError aborts the outcome enrichment of one market. The market's
// previous snapshot must be kept when it is returned.
type EnrichmentError struct {
	ConditionID  string
	OutcomeIndex int
	Err          error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich market %s outcome %d: %v", e.ConditionID, e.OutcomeIndex, e.Err)
}
func (e *EnrichmentError) Unwrap() error { return e.Err }

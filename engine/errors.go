package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/hush/errs"
)

// Reason is the structured cause of a rejected submission.
type Reason int

const (
	ReasonRejected Reason = iota
	// ReasonInsufficientFunds means the private balance could not cover the
	// operations plus the engine fee.
	ReasonInsufficientFunds
	// ReasonAvailableBalanceRounding means the lending pool rejected a
	// full withdrawal by one unit of rounding.
	ReasonAvailableBalanceRounding
	// ReasonUnauthorized means the adapter rejected the revealed secret.
	ReasonUnauthorized
	// ReasonSignerMismatch means the engine is bound to another chain or
	// public signer.
	ReasonSignerMismatch
)

var reasonNames = map[Reason]string{
	ReasonRejected:                 "rejected",
	ReasonInsufficientFunds:        "insufficient_funds",
	ReasonAvailableBalanceRounding: "available_balance_rounding",
	ReasonUnauthorized:             "unauthorized",
	ReasonSignerMismatch:           "signer_mismatch",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "rejected"
}

// ParseReason is the inverse of String. Unknown names map to ReasonRejected.
func ParseReason(s string) Reason {
	for r, name := range reasonNames {
		if name == s {
			return r
		}
	}
	return ReasonRejected
}

// SubmitError is returned by Handle.Submit when the engine or the chain
// rejects a sequence.
type SubmitError struct {
	Reason  Reason
	Message string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("privacy engine rejected submission (%s): %s", e.Reason, e.Message)
}

func (e *SubmitError) Kind() errs.Kind {
	if e.Reason == ReasonSignerMismatch {
		return errs.KindSignerMismatch
	}
	return errs.KindEngineUnavailable
}

// ReasonOf extracts the structured reason from err. Errors that carry none
// are classified by ClassifyMessage.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonRejected
	}
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage maps free-form engine error text to a Reason.
//
// This is a compatibility shim for engines that report failures only as
// text. Substring matching is ambiguous: a message that merely mentions one
// of these phrases is misclassified. Engines should return *SubmitError.
func ClassifyMessage(msg string) Reason {
	m := strings.ToLower(msg)
	switch {
	// Lending pool available-balance rounding, by revert selector or name.
	case strings.Contains(m, "47bc4b2c"), strings.Contains(m, "notenoughavailableuserbalance"):
		return ReasonAvailableBalanceRounding
	case strings.Contains(m, "insufficient funds"), strings.Contains(m, "insufficient balance"):
		return ReasonInsufficientFunds
	case strings.Contains(m, "signer mismatch"), strings.Contains(m, "chain mismatch"):
		return ReasonSignerMismatch
	case strings.Contains(m, "invalid auth"), strings.Contains(m, "unauthorized"):
		return ReasonUnauthorized
	default:
		return ReasonRejected
	}
}

// Unavailable wraps an engine failure with a user-facing hint.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *SubmitError
	if errors.As(err, &se) {
		return err
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Wrap(errs.KindEngineUnavailable, err, "privacy engine %s failed", op).
		WithHint("Check HUSH_ENGINE_URL and that the engine is synced, then retry")
}

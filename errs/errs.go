// Package errs defines the typed error taxonomy shared by every hush
// component. Callers decide between retry, abort and graceful degradation by
// dispatching on Kind, never on message text.
package errs

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Kind classifies a failure for propagation decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration means an address-shaped setting is missing or invalid.
	// Fatal to the attempted action, never to the process.
	KindConfiguration
	// KindSignerMismatch means the connected wallet is not the session owner.
	KindSignerMismatch
	// KindIntegrity means a stored session failed to decrypt or parse. It is
	// treated exactly like "no session found".
	KindIntegrity
	// KindInsufficientBalance means the private balance stayed below the
	// required amount after reconciliation.
	KindInsufficientBalance
	// KindStaleQuoteRetry marks the one-shot max-withdraw rounding retry.
	KindStaleQuoteRetry
	// KindEngineUnavailable wraps failures raised by the privacy engine.
	KindEngineUnavailable
	// KindNoSession means an action ran before login.
	KindNoSession
	// KindInvalidInput covers malformed user arguments.
	KindInvalidInput
	// KindPositionNotActionable means no usable authorization secret is known
	// for the position.
	KindPositionNotActionable
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSignerMismatch:
		return "signer_mismatch"
	case KindIntegrity:
		return "integrity"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindStaleQuoteRetry:
		return "stale_quote_retry"
	case KindEngineUnavailable:
		return "engine_unavailable"
	case KindNoSession:
		return "no_session"
	case KindInvalidInput:
		return "invalid_input"
	case KindPositionNotActionable:
		return "position_not_actionable"
	default:
		return "unknown"
	}
}

// Kinded is implemented by every error type in this package.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Error is the general-purpose classified error. Message is what a user
// sees; Hint, when set, tells them what to do next.
type Error struct {
	K       Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString(". ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *Error) Kind() Kind    { return e.K }
func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a displayable message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{K: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a displayable message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{K: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithHint returns e with Hint set.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// ConfigurationError names the offending setting.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("missing config %s", e.Key)
	}
	if e.Reason != "" {
		return fmt.Sprintf("invalid config %s=%q: %s", e.Key, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid config %s=%q", e.Key, e.Value)
}

func (e *ConfigurationError) Kind() Kind { return KindConfiguration }

// SignerMismatchError names both addresses so the user knows which account
// to switch to.
type SignerMismatchError struct {
	Expected string
	Actual   string
	// Source says which side reported Actual: "wallet" or "engine".
	Source string
}

func (e *SignerMismatchError) Error() string {
	src := e.Source
	if src == "" {
		src = "wallet"
	}
	return fmt.Sprintf("active privacy session belongs to %s, but %s signer is %s. Run login again with the same account", e.Expected, src, e.Actual)
}

func (e *SignerMismatchError) Kind() Kind { return KindSignerMismatch }

// InsufficientBalanceError reports both the required and available amounts,
// already formatted in token units by the caller.
type InsufficientBalanceError struct {
	Action    string
	Required  *big.Int
	Available *big.Int
	// Format renders amounts for display; nil prints raw integers.
	Format func(*big.Int) string
}

func (e *InsufficientBalanceError) Error() string {
	f := e.Format
	if f == nil {
		f = func(v *big.Int) string { return v.String() }
	}
	return fmt.Sprintf("insufficient private spendable balance for %s. Need %s, available %s", e.Action, f(e.Required), f(e.Available))
}

func (e *InsufficientBalanceError) Kind() Kind { return KindInsufficientBalance }

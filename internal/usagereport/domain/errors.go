package domain

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	ErrInvalidBillingLine = errors.New("invalid_billing_line")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidConfig      = errors.New("invalid_provider_config")
	ErrProviderNotFound   = errors.New("provider_not_found")
	// ErrOutcomeUnknown marks a report that may or may not have been recorded.
	ErrOutcomeUnknown = errors.New("usage_report_outcome_unknown")
)

var billingLinePattern = regexp.MustCompile(`^si_[A-Za-z0-9]+$`)

// ValidateBillingLineID checks the subscription item id shape ("si_" + alphanumerics).
func ValidateBillingLineID(id string) error {
	if !billingLinePattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidBillingLine, id)
	}
	return nil
}

// ValidateReport runs before any network call.
func ValidateReport(r Report) error {
	if err := ValidateBillingLineID(r.BillingLineID); err != nil {
		return err
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// RemoteReportError is a definite failure from the provider: it rejected the
// report or could not be reached before anything was sent.
type RemoteReportError struct {
	Provider     string
	Message      string
	ProviderCode string
	// StatusCode is the provider's HTTP status, 0 when unreachable.
	StatusCode int
	Err        error
}

func (e *RemoteReportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" usage report failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.ProviderCode != "" {
		fmt.Fprintf(&b, " [%s]", e.ProviderCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *RemoteReportError) Unwrap() error { return e.Err }

// Rejected reports whether the provider answered with a client error.
func (e *RemoteReportError) Rejected() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

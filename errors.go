package wyvernmarket

import (
	"errors"
	"fmt"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

var (
	// ErrNotConnected means no actor session; the flow routes to login
	ErrNotConnected = errors.New("not connected")

	// ErrPreconditionFailed signals that a remediation step is required
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrRemediationFailed represents a failed proxy registration or approval
	ErrRemediationFailed = errors.New("remediation failed")

	// ErrInvalidInput represents a price or expiration rejected locally
	ErrInvalidInput = errors.New("invalid input")

	// ErrSigningCancelled means the actor declined to sign
	ErrSigningCancelled = chain.ErrSigningCancelled

	// ErrSubmissionRejected means the backend refused the order and signature
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrOpenAPI represents a backend API error
	ErrOpenAPI = errors.New("openapi error")

	// ErrInvalidState is returned for an operation the flow's current state does not allow
	ErrInvalidState = errors.New("invalid flow state")

	// ErrFlowClosed is returned when a flow that aborted is advanced again
	ErrFlowClosed = errors.New("flow closed")
)

// InvalidParamError represents an invalid parameter error with context
type InvalidParamError struct {
	Message string
}

func (e *InvalidParamError) Error() string {
	return e.Message
}

func (e *InvalidParamError) Is(target error) bool {
	return target == ErrInvalidInput
}

// OpenAPIError represents an OpenAPI error with context
type OpenAPIError struct {
	Message    string
	StatusCode int
}

func (e *OpenAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *OpenAPIError) Is(target error) bool {
	return target == ErrOpenAPI
}

// RemediationError reports which remediation step failed
type RemediationError struct {
	Step   FlowState
	TxHash string
	Err    error
}

func (e *RemediationError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s failed (tx %s): %v", e.Step, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *RemediationError) Is(target error) bool {
	return target == ErrRemediationFailed
}

func (e *RemediationError) Unwrap() error {
	return e.Err
}

// SubmissionError reports a rejected order verification
type SubmissionError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *SubmissionError) Error() string {
	msg := "order submission rejected"
	if e.OrderID != "" {
		msg += " for order " + e.OrderID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionRejected
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

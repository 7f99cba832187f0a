package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jrjohn/ordr-go/pkg/models"
)

// StatusClientClosedRequest marks a request abandoned because the caller's
// context was cancelled.
const StatusClientClosedRequest = 499

// MsgUnhandledContentType is the message of the error returned for a
// successful response whose content type cannot be interpreted.
const MsgUnhandledContentType = "Unhandled Content Type"

// APIError is a failed API call: either a non-success response from o!rdr,
// an uninterpretable response, or a transport failure.
type APIError struct {
	Status  int              `json:"status"`
	Message string           `json:"message"`
	Code    models.ErrorCode `json:"errorCode"`
	Err     error            `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	s := fmt.Sprintf("ordr: status %d: %s", e.Status, msg)
	if e.Code != models.ErrorCodeUnknown {
		s = fmt.Sprintf("%s (code %d: %s)", s, int(e.Code), e.Code)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Common API errors
var (
	ErrUnhandledContentType = &APIError{Status: http.StatusUnsupportedMediaType, Message: MsgUnhandledContentType}
	ErrUnprocessable        = &APIError{Status: http.StatusUnprocessableEntity, Message: "unprocessable response"}
	ErrTimeout              = &APIError{Status: http.StatusRequestTimeout, Message: "request timed out"}
	ErrCanceled             = &APIError{Status: StatusClientClosedRequest, Message: "request canceled"}
	ErrUnavailable          = &APIError{Status: http.StatusServiceUnavailable, Message: "service unavailable"}
)

// ErrClientClosed is returned by operations on a client after Close.
var ErrClientClosed = errors.New("ordr: client is closed")

// New creates a new APIError
func New(status int, message string, code models.ErrorCode) *APIError {
	return &APIError{
		Status:  status,
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an error with a copy of apiErr
func Wrap(err error, apiErr *APIError) *APIError {
	return &APIError{
		Status:  apiErr.Status,
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Err:     err,
	}
}

// WithMessage returns a copy with a custom message
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Status:  e.Status,
		Message: message,
		Code:    e.Code,
		Err:     e.Err,
	}
}

// WithError returns a copy wrapping err
func (e *APIError) WithError(err error) *APIError {
	return &APIError{
		Status:  e.Status,
		Message: e.Message,
		Code:    e.Code,
		Err:     err,
	}
}

// Is reports whether err is an APIError with the same status and code as target.
func Is(err error, target *APIError) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.Status == target.Status && apiErr.Code == target.Code
}

// AsAPIError finds the first APIError in err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// UsageError reports a call rejected locally, before any network traffic,
// because its arguments were incomplete or invalid.
type UsageError struct {
	Field   string
	Message string
}

func (e *UsageError) Error() string {
	if e.Field == "" {
		return "ordr: " + e.Message
	}
	return fmt.Sprintf("ordr: invalid %s: %s", e.Field, e.Message)
}

// NewUsage creates a UsageError for field
func NewUsage(field, message string) *UsageError {
	return &UsageError{Field: field, Message: message}
}

// IsUsage reports whether err is a UsageError.
func IsUsage(err error) bool {
	var usageErr *UsageError
	return errors.As(err, &usageErr)
}

// GetStatus returns the HTTP status carried by err. Usage errors map to 400,
// anything else without a status to 500.
func GetStatus(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Status
	}
	if IsUsage(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

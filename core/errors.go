package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorFactory builds domain errors; the default is goerrors.New.
type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

// ErrorMapper normalizes arbitrary errors into the structured form used for
// transport rendering and logging.
type ErrorMapper func(err error) *goerrors.Error

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return integrationErrorMapper(err)
}

const (
	IntegrationErrorBadInput        = "INTEGRATION_BAD_INPUT"
	IntegrationErrorValidation      = "INTEGRATION_VALIDATION"
	IntegrationErrorEntryNotFound   = "INTEGRATION_ENTRY_NOT_FOUND"
	IntegrationErrorHandlerNotFound = "INTEGRATION_HANDLER_NOT_FOUND"
	IntegrationErrorFlowNotFound    = "INTEGRATION_FLOW_NOT_FOUND"
	IntegrationErrorStepUnsupported = "INTEGRATION_STEP_UNSUPPORTED"
	IntegrationErrorStepFailed      = "INTEGRATION_STEP_FAILED"
	IntegrationErrorResultInvalid   = "INTEGRATION_RESULT_INVALID"
	IntegrationErrorThrottled       = "INTEGRATION_FLOW_THROTTLED"
	IntegrationErrorStorage         = "INTEGRATION_STORAGE_FAILED"
	IntegrationErrorInternal        = "INTEGRATION_INTERNAL_ERROR"
)

// NewUnknownEntryError reports a lookup or removal that referenced a
// nonexistent entry id.
func NewUnknownEntryError(entryID string) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: config entry not found: %s", strings.TrimSpace(entryID)),
		goerrors.CategoryNotFound,
		IntegrationErrorEntryNotFound,
	)
}

// NewUnknownHandlerError reports a domain with no registered or loadable flow
// handler.
func NewUnknownHandlerError(domain string) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: no flow handler for domain: %s", strings.TrimSpace(domain)),
		goerrors.CategoryNotFound,
		IntegrationErrorHandlerNotFound,
	)
}

// NewUnknownFlowError reports an operation against a flow id that is not in
// progress, either never started or already terminated.
func NewUnknownFlowError(flowID string) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: flow not found: %s", strings.TrimSpace(flowID)),
		goerrors.CategoryNotFound,
		IntegrationErrorFlowNotFound,
	)
}

// NewUnknownStepError reports a handler that does not implement the requested
// step. Detecting this condition discards the flow.
func NewUnknownStepError(domain, stepID string) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: handler for %s does not support step: %s", strings.TrimSpace(domain), strings.TrimSpace(stepID)),
		goerrors.CategoryOperation,
		IntegrationErrorStepUnsupported,
	).WithCode(http.StatusUnprocessableEntity)
}

// NewInvalidResultError reports a step that returned something outside the
// closed result set. This is a handler contract violation, distinct from a
// business level abort.
func NewInvalidResultError(domain string, kind StepResultKind) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: handler for %s returned invalid result kind: %q", strings.TrimSpace(domain), kind),
		goerrors.CategoryOperation,
		IntegrationErrorResultInvalid,
	).WithCode(http.StatusInternalServerError)
}

// NewThrottledError reports a flow init rejected by the flow throttle before
// any flow state was created.
func NewThrottledError(domain string, source Source) *goerrors.Error {
	return newIntegrationError(
		fmt.Sprintf("core: flow init throttled for domain %s source %s", strings.TrimSpace(domain), source),
		goerrors.CategoryRateLimit,
		IntegrationErrorThrottled,
	)
}

// NewStepFailedError wraps an error or recovered panic raised by a step
// implementation. The flow stays in progress so the caller may retry the
// same step.
func NewStepFailedError(domain, stepID string, cause error) *goerrors.Error {
	wrapped := goerrors.Wrap(
		cause,
		goerrors.CategoryOperation,
		fmt.Sprintf("core: step %s failed for domain %s", strings.TrimSpace(stepID), strings.TrimSpace(domain)),
	).WithTextCode(IntegrationErrorStepFailed).WithCode(http.StatusInternalServerError)
	return ensureIntegrationErrorEnvelope(wrapped)
}

func IsUnknownEntry(err error) bool   { return hasTextCode(err, IntegrationErrorEntryNotFound) }
func IsUnknownHandler(err error) bool { return hasTextCode(err, IntegrationErrorHandlerNotFound) }
func IsUnknownFlow(err error) bool    { return hasTextCode(err, IntegrationErrorFlowNotFound) }
func IsUnknownStep(err error) bool    { return hasTextCode(err, IntegrationErrorStepUnsupported) }
func IsValidationError(err error) bool {
	if hasTextCode(err, IntegrationErrorValidation) {
		return true
	}
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation
}
func IsThrottled(err error) bool { return hasTextCode(err, IntegrationErrorThrottled) }

// MapToIntegrationError normalizes any error into the integration error
// envelope. Errors already carrying an envelope pass through with their
// status code and text code defaults filled in.
func MapToIntegrationError(err error) *goerrors.Error {
	return integrationErrorMapper(err)
}

func hasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func integrationErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIntegrationErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "entry not found"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorEntryNotFound)
	case strings.Contains(msg, "flow not found"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorFlowNotFound)
	case strings.Contains(msg, "handler") && strings.Contains(msg, "not"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorHandlerNotFound)
	case strings.Contains(msg, "does not support step"), strings.Contains(msg, "unknown step"):
		return newIntegrationError(err.Error(), goerrors.CategoryOperation, IntegrationErrorStepUnsupported)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newIntegrationError(err.Error(), goerrors.CategoryRateLimit, IntegrationErrorThrottled)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newIntegrationError(err.Error(), goerrors.CategoryBadInput, IntegrationErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIntegrationErrorEnvelope(mapped)
}

func newIntegrationError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIntegrationErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIntegrationErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = integrationHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIntegrationTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIntegrationTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return IntegrationErrorBadInput
	case goerrors.CategoryValidation:
		return IntegrationErrorValidation
	case goerrors.CategoryNotFound:
		return IntegrationErrorEntryNotFound
	case goerrors.CategoryRateLimit:
		return IntegrationErrorThrottled
	case goerrors.CategoryOperation:
		return IntegrationErrorStepFailed
	default:
		return IntegrationErrorInternal
	}
}

func integrationHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

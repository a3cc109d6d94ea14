package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

// badRequest rejects malformed render input with a 400 envelope error.
func badRequest(message string, meta map[string]any) error {
	return richError(nil, goerrors.CategoryBadInput, http.StatusBadRequest, message, meta)
}

// internalFault reports a broken render path as a 500 envelope error,
// wrapping the source when one exists so callers keep the cause chain.
func internalFault(source error, message string, meta map[string]any) error {
	return richError(source, goerrors.CategoryInternal, http.StatusInternalServerError, message, meta)
}

// notImplemented reports a surface the host declared but never configured.
func notImplemented(message string, meta map[string]any) error {
	return richError(nil, goerrors.CategoryOperation, http.StatusNotImplemented, message, meta)
}

func richError(source error, category goerrors.Category, status int, message string, meta map[string]any) error {
	var rich *goerrors.Error
	if source == nil {
		rich = goerrors.New(message, category)
	} else {
		rich = goerrors.Wrap(source, category, message)
	}
	rich = rich.WithCode(status).WithTextCode(categoryTextCode(category))
	if len(meta) > 0 {
		rich = rich.WithMetadata(meta)
	}
	return rich
}

// categoryTextCode keeps transport envelopes on the integration error
// taxonomy regardless of which category the failure carried.
func categoryTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return core.IntegrationErrorBadInput
	case goerrors.CategoryValidation:
		return core.IntegrationErrorValidation
	case goerrors.CategoryRateLimit:
		return core.IntegrationErrorThrottled
	case goerrors.CategoryOperation:
		return core.IntegrationErrorStepFailed
	default:
		return core.IntegrationErrorInternal
	}
}

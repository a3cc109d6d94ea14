package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

// dependencyError flags a query executed before its reader was wired.
func dependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(core.IntegrationErrorInternal).
		WithCode(http.StatusInternalServerError)
}

func validationError(field string, message string) error {
	fieldErr := goerrors.FieldError{Field: field, Message: message}
	return goerrors.NewValidation("query: invalid message", fieldErr).
		WithTextCode(core.IntegrationErrorValidation).
		WithCode(http.StatusBadRequest).
		WithSeverity(goerrors.SeverityError)
}

package common

import (
	"errors"
	"net/http"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/rollup"
)

// Error codes shared by the HTTP and MCP adapters.
const (
	CodeInvalidRequest         = "invalid_request"
	CodeCircularDependency     = "circular_dependency"
	CodeNotFound               = "not_found"
	CodeDependenciesIncomplete = "dependencies_incomplete"
	CodeInvariantViolation     = "invariant_violation"
	CodeInternal               = "internal_error"
)

// ErrorClass is the transport-visible category of one service error.
type ErrorClass struct {
	Status int
	Code   string
}

// Classify maps service errors onto one transport error class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClass{Status: http.StatusInternalServerError, Code: CodeInternal}
	case errors.Is(err, domain.ErrCycle):
		return ErrorClass{Status: http.StatusConflict, Code: CodeCircularDependency}
	case errors.Is(err, domain.ErrInvariantViolation):
		return ErrorClass{Status: http.StatusInternalServerError, Code: CodeInvariantViolation}
	case errors.Is(err, app.ErrNotFound), errors.Is(err, rollup.ErrUnknownItem):
		return ErrorClass{Status: http.StatusNotFound, Code: CodeNotFound}
	case errors.Is(err, app.ErrDependenciesIncomplete):
		return ErrorClass{Status: http.StatusConflict, Code: CodeDependenciesIncomplete}
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidParentID),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidOverride),
		errors.Is(err, app.ErrInvalidDeleteMode),
		errors.Is(err, app.ErrCrossProject),
		errors.Is(err, plan.ErrInvalidPlan),
		errors.Is(err, ErrInvalidRequest):
		return ErrorClass{Status: http.StatusBadRequest, Code: CodeInvalidRequest}
	default:
		return ErrorClass{Status: http.StatusInternalServerError, Code: CodeInternal}
	}
}

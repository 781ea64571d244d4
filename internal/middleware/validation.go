package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "stardust/internal/errors"
)

// QueryParamValidator validates query and path parameters, answering
// invalid input with a 400 problem.
type QueryParamValidator struct {
	validate     *validator.Validate
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewQueryParamValidator creates a new query parameter validator
func NewQueryParamValidator(logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *QueryParamValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryParamValidator{
		validate:     validator.New(),
		logger:       logger.With(slog.String("component", "query_validator")),
		errorHandler: errorHandler,
	}
}

// ValidateEnum validates an enum query parameter
func (v *QueryParamValidator) ValidateEnum(w http.ResponseWriter, r *http.Request, param string, allowed []string, defaultValue string) (string, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}

	for _, a := range allowed {
		if value == a {
			return value, true
		}
	}

	v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", "))))
	return "", false
}

// ValidateVar checks value against validator tags such as
// "required,max=64". param names the value in the error response.
func (v *QueryParamValidator) ValidateVar(w http.ResponseWriter, r *http.Request, param, value, tags string) bool {
	if err := v.validate.Var(value, tags); err != nil {
		v.logger.DebugContext(r.Context(), "parameter rejected",
			slog.String("param", param),
			slog.String("error", err.Error()))
		v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, fmt.Sprintf("%s is invalid", param)))
		return false
	}
	return true
}

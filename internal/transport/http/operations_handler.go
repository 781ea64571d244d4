package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stardust/internal/errors"
	"stardust/internal/middleware"
	"stardust/pkg/contracts/domain"
)

// OperationsReader is the read side of the operations manager.
type OperationsReader interface {
	Find(uid string) (*domain.Operation, bool)
	List() []*domain.Operation
	Status() domain.ServerStatus
}

// OperationsHandler exposes the operation list over REST. Mutations only
// travel over the websocket.
type OperationsHandler struct {
	ops          OperationsReader
	validator    *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(ops OperationsReader, validator *middleware.QueryParamValidator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *OperationsHandler {
	if ops == nil {
		panic("operations reader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsHandler{
		ops:          ops,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "operations")),
	}
}

// Routes mounts under /api/operations.
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListOperations)
	r.Get("/{uid}", h.GetOperation)
	return r
}

// ListOperations handles GET /api/operations, newest first.
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops := h.ops.List()
	if ops == nil {
		ops = []*domain.Operation{}
	}
	render.JSON(w, r, ops)
}

// GetOperation handles GET /api/operations/{uid}
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !h.validator.ValidateVar(w, r, "uid", uid, "required,max=64,printascii") {
		return
	}

	op, ok := h.ops.Find(uid)
	if !ok {
		h.logger.DebugContext(r.Context(), "operation not found", slog.String("uid", uid))
		h.errorHandler.HandleError(w, r, apierrors.ErrOperationNotFound.WithDetails(map[string]string{"uid": uid}))
		return
	}
	render.JSON(w, r, op)
}

// Status handles GET /api/status
func (h *OperationsHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.ops.Status())
}

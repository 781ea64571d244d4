package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stardust/internal/errors"
	"stardust/internal/middleware"
	"stardust/internal/services"
)

// ArtifactFetcher resolves artifact keys into downloads.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key, format string) (*services.Download, error)
}

// ArtifactHandler serves cached analysis artifacts.
type ArtifactHandler struct {
	artifacts    ArtifactFetcher
	validator    *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(artifacts ArtifactFetcher, validator *middleware.QueryParamValidator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ArtifactHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactHandler{
		artifacts:    artifacts,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "artifacts")),
	}
}

// Routes mounts under /api/get.
func (h *ArtifactHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{key}", h.GetArtifact)
	return r
}

// GetArtifact handles GET /api/get/{key}
func (h *ArtifactHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrInvalidArtifactKey)
		return
	}
	format, ok := h.validator.ValidateEnum(w, r, "format", []string{services.FormatXLSX}, services.FormatDefault)
	if !ok {
		return
	}

	download, err := h.artifacts.Fetch(r.Context(), key, format)
	if err != nil {
		h.errorHandler.HandleError(w, r, artifactError(err))
		return
	}

	w.Header().Set("Content-Type", download.ContentType)
	if download.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(download.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(download.Body); err != nil {
		h.logger.WarnContext(r.Context(), "artifact write failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

func artifactError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidKey):
		return apierrors.ErrInvalidArtifactKey
	case errors.Is(err, services.ErrArtifactNotFound):
		return apierrors.ErrArtifactNotFound
	case errors.Is(err, services.ErrUnsupportedFormat):
		return apierrors.ErrUnsupportedFormat
	}
	return err
}

// NotFoundHandler answers unknown routes with {"error":404} after a delay
// that grows with the number of such requests in flight.
type NotFoundHandler struct {
	throttle *services.DelayThrottle
	logger   *slog.Logger
}

// NewNotFoundHandler creates the handler. Replies wait their turn on
// throttle, which downloads may share.
func NewNotFoundHandler(throttle *services.DelayThrottle, logger *slog.Logger) *NotFoundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle == nil {
		throttle = services.NewDelayThrottle(0)
	}
	return &NotFoundHandler{
		throttle: throttle,
		logger:   logger.With(slog.String("handler", "not_found")),
	}
}

// ServeHTTP implements http.Handler
func (h *NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.throttle.Do(r.Context(), func() error {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]int{"error": http.StatusNotFound})
		return nil
	})
	if err != nil {
		h.logger.DebugContext(r.Context(), "client left before not found reply",
			slog.String("path", r.URL.Path))
	}
}

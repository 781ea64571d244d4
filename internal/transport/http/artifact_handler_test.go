package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "stardust/internal/errors"
	"stardust/internal/middleware"
	"stardust/internal/services"
	"stardust/internal/shared/testutil"
)

const testKey = "csv:Zm9vYmFyYmF6cXV4cXV1eA.0"

// MockArtifactFetcher is a mock implementation of ArtifactFetcher
type MockArtifactFetcher struct {
	mock.Mock
}

func (m *MockArtifactFetcher) Fetch(ctx context.Context, key, format string) (*services.Download, error) {
	args := m.Called(ctx, key, format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Download), args.Error(1)
}

func newArtifactRouter(t *testing.T, fetcher ArtifactFetcher) http.Handler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	errorHandler := apierrors.NewErrorHandler(logger, false)
	h := NewArtifactHandler(fetcher, middleware.NewQueryParamValidator(logger, errorHandler), errorHandler, logger)

	r := chi.NewRouter()
	r.Mount("/api/get", h.Routes())
	return r
}

func TestArtifactHandler_CSV(t *testing.T) {
	fetcher := new(MockArtifactFetcher)
	fetcher.On("Fetch", mock.Anything, testKey, services.FormatDefault).Return(&services.Download{
		ContentType: "text/csv",
		Filename:    "kpis-golang_go-1-200spu.csv",
		Body:        []byte("name,stars\ngo,1\n"),
	}, nil)

	rec := httptest.NewRecorder()
	newArtifactRouter(t, fetcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/"+testKey, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="kpis-golang_go-1-200spu.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "17", rec.Header().Get("Content-Length"))
	assert.Equal(t, "name,stars\ngo,1\n", rec.Body.String())
	fetcher.AssertExpectations(t)
}

func TestArtifactHandler_XLSXFormat(t *testing.T) {
	fetcher := new(MockArtifactFetcher)
	fetcher.On("Fetch", mock.Anything, testKey, services.FormatXLSX).Return(&services.Download{
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Filename:    "kpis-golang_go-1-200spu.xlsx",
		Body:        []byte("PK"),
	}, nil)

	rec := httptest.NewRecorder()
	newArtifactRouter(t, fetcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/"+testKey+"?format=xlsx", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	fetcher.AssertExpectations(t)
}

func TestArtifactHandler_JSONInline(t *testing.T) {
	fetcher := new(MockArtifactFetcher)
	fetcher.On("Fetch", mock.Anything, "json:Zm9vYmFyYmF6cXV4cXV1eA.1", services.FormatDefault).Return(&services.Download{
		ContentType: "application/json",
		Body:        []byte(`{"a":1}`),
	}, nil)

	rec := httptest.NewRecorder()
	newArtifactRouter(t, fetcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/json:Zm9vYmFyYmF6cXV4cXV1eA.1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}

func TestArtifactHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid key", err: fmt.Errorf("%w: length 3", services.ErrInvalidKey), wantStatus: http.StatusBadRequest, wantCode: "INVALID_ARTIFACT_KEY"},
		{name: "missing artifact", err: services.ErrArtifactNotFound, wantStatus: http.StatusNotFound, wantCode: "ARTIFACT_NOT_FOUND"},
		{name: "unsupported format", err: services.ErrUnsupportedFormat, wantStatus: http.StatusBadRequest, wantCode: "UNSUPPORTED_FORMAT"},
		{name: "store failure", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(MockArtifactFetcher)
			fetcher.On("Fetch", mock.Anything, testKey, services.FormatDefault).Return(nil, tt.err)

			rec := httptest.NewRecorder()
			newArtifactRouter(t, fetcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/"+testKey, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			} else {
				assert.Equal(t, apierrors.TypeInternal, body["type"])
			}
		})
	}
}

func TestArtifactHandler_RejectsUnknownFormat(t *testing.T) {
	fetcher := new(MockArtifactFetcher)

	rec := httptest.NewRecorder()
	newArtifactRouter(t, fetcher).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/"+testKey+"?format=pdf", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotFoundHandler(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewNotFoundHandler(services.NewDelayThrottle(20*time.Millisecond), logger)

	t.Run("body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		start := time.Now()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":404}`, rec.Body.String())
	})

	t.Run("concurrent requests wait longer", func(t *testing.T) {
		var wg sync.WaitGroup
		elapsed := make([]time.Duration, 3)
		for i := range elapsed {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				start := time.Now()
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
				elapsed[i] = time.Since(start)
			}(i)
		}
		wg.Wait()

		var longest time.Duration
		for _, d := range elapsed {
			longest = max(longest, d)
		}
		assert.GreaterOrEqual(t, longest, 40*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil).WithContext(ctx))
		assert.Empty(t, rec.Body.String())
	})
}

func TestNotFoundWaitsOnPendingDownloads(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	downloads := services.NewDelayThrottle(time.Millisecond)
	h := NewNotFoundHandler(downloads.WithBase(20*time.Millisecond), logger)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = downloads.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool { return downloads.InFlight() == 1 }, time.Second, time.Millisecond)

	rec := httptest.NewRecorder()
	start := time.Now()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	close(release)
	wg.Wait()
}

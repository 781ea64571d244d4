package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apierrors "stardust/internal/errors"
	"stardust/internal/infrastructure"
	"stardust/internal/shared/testutil"
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRequestID(t *testing.T) {
	var gotReq, gotTrace string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = GetReqID(r.Context())
		gotTrace = infrastructure.GetTraceID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, gotReq)
		assert.Equal(t, gotReq, gotTrace)
		assert.Equal(t, gotReq, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", gotReq)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	h := StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "request completed")
	assert.True(t, logs.ContainsAttr("status", int64(http.StatusNotFound)))
}

func TestRateLimiter(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewRateLimiter(0.001, 2, logger).Handler(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get/x", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, apierrors.TypeRateLimit, body["type"])
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.True(t, logs.ContainsMessage("rate limit exceeded"))
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"http://app.test"}})(http.HandlerFunc(ok))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "http://app.test", wantOrigin: "http://app.test", wantStatus: http.StatusOK},
		{name: "foreign origin", method: http.MethodGet, origin: "http://evil.test", wantStatus: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, origin: "http://app.test", wantOrigin: "http://app.test", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/status", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(ok)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestOTelMiddlewareRecordsRoutes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	logger, _ := testutil.NewTestLogger(t)

	mw, err := NewOTelMiddleware(nil, provider.Meter("test"), logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw.Handler)
	r.Get("/api/operations/{uid}", ok)

	for _, path := range []string{"/api/operations/a", "/api/operations/b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_requests_total" {
				continue
			}
			sum, isSum := m.Data.(metricdata.Sum[int64])
			require.True(t, isSum)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("route")
				assert.Equal(t, "/api/operations/{uid}", route.AsString())
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestQueryParamValidator(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	v := NewQueryParamValidator(logger, apierrors.NewErrorHandler(logger, false))

	t.Run("enum default", func(t *testing.T) {
		rec := httptest.NewRecorder()
		got, valid := v.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "format", []string{"xlsx"}, "")
		assert.True(t, valid)
		assert.Empty(t, got)
	})

	t.Run("enum rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, valid := v.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/x?format=pdf", nil), "format", []string{"xlsx"}, "")
		assert.False(t, valid)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("var", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		assert.True(t, v.ValidateVar(httptest.NewRecorder(), req, "uid", "abc", "required,max=8"))

		rec := httptest.NewRecorder()
		assert.False(t, v.ValidateVar(rec, req, "uid", "much-too-long-value", "required,max=8"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho() *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	return e
}

func TestContext_PropagatesRequestID(t *testing.T) {
	e := newEcho()
	var seen string
	e.GET("/ping", func(c echo.Context) error {
		seen = context.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_GeneratesRequestID(t *testing.T) {
	e := newEcho()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestLogger_UsesRequestContext(t *testing.T) {
	var fields map[string]any
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if msg.Message == "Request" {
			fields = msg.Fields
		}
	})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Logger(logger))
	e.Use(Context())
	e.GET("/products/:id/history", func(c echo.Context) error {
		ctx := c.Request().Context()
		assert.Equal(t, http.MethodGet, context.GetMethod(ctx))
		assert.Equal(t, "/products/abc/history", context.GetRoute(ctx))
		assert.Equal(t, "10.0.0.7", context.GetRemoteIP(ctx))
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/products/abc/history", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-9")
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, fields)
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, http.MethodGet, fields["method"])
	assert.Equal(t, "/products/:id/history", fields["route"])
	assert.Equal(t, "/products/abc/history", fields["path"])
	assert.Equal(t, "10.0.0.7", fields["remote_ip"])
}

func TestError_Responses(t *testing.T) {
	e := newEcho()
	e.GET("/http-error", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusConflict, "pass already running")
	})
	e.GET("/echo-error", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad input")
	})
	e.GET("/plain", func(c echo.Context) error {
		return assert.AnError
	})

	tests := []struct {
		path    string
		code    int
		message string
	}{
		{"/http-error", http.StatusConflict, "pass already running"},
		{"/echo-error", http.StatusBadRequest, "bad input"},
		{"/plain", http.StatusInternalServerError, "Internal Server Error"},
		{"/missing", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set(echo.HeaderXRequestID, "req-1")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Message)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

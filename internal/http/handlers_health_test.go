package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) Health(context.Context) error {
	return f.err
}

func TestHealthHandler_OK(t *testing.T) {
	handler := healthHandler(&fakeChecker{})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthHandler_HeadHasNoBody(t *testing.T) {
	handler := healthHandler(&fakeChecker{})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealthHandler_BrokerDown(t *testing.T) {
	handler := healthHandler(&fakeChecker{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bus_unavailable")
}

func TestHealthHandler_NilCheckerStillHealthy(t *testing.T) {
	handler := healthHandler(nil)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", PingCheck(pingFunc(func(context.Context) error { return nil }), true))
	c.Register("embedding", PingCheck(pingFunc(func(context.Context) error { return errors.New("timeout") }), false))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["postgres"].Status)
	assert.Equal(t, "timeout", report.Components["embedding"].Message)

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded stays ready")

	c.Register("postgres", PingCheck(pingFunc(func(context.Context) error { return errors.New("refused") }), true))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPingCheckNotConfigured(t *testing.T) {
	got := PingCheck(nil, true)(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RunAllHealthy(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "a", Fn: func(ctx context.Context) error { return nil }})
	r.Register(Check{Name: "b", Fn: func(ctx context.Context) error { return nil }})

	status, results := r.Run(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Len(t, results, 2)
}

func TestRegistry_CriticalFailureIsUnhealthy(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "db", Critical: true, Fn: func(ctx context.Context) error { return errors.New("down") }})

	status, _ := r.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
}

func TestRegistry_NonCriticalFailureIsDegraded(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "cache", Critical: false, Fn: func(ctx context.Context) error { return errors.New("down") }})

	status, _ := r.Run(context.Background())
	assert.Equal(t, StatusDegraded, status)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "slow", Critical: true, Timeout: 10 * time.Millisecond, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	status, results := r.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	require.Len(t, results, 1)
	assert.Equal(t, "check timed out", results[0].Error)
}

func TestRegistry_RegisterReplacesSameName(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "a", Fn: func(ctx context.Context) error { return errors.New("fail") }})
	r.Register(Check{Name: "a", Fn: func(ctx context.Context) error { return nil }})

	_, results := r.Run(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusHealthy, results[0].Status)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "a", Fn: func(ctx context.Context) error { return nil }})
	r.Unregister("a")

	_, results := r.Run(context.Background())
	assert.Empty(t, results)
}

func TestLivenessHandler_AlwaysHealthyNoChecks(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "db", Critical: true, Fn: func(ctx context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()
	r.LivenessHandler()(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessHandler_OnlyRunsCriticalChecks(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "noncritical", Critical: false, Fn: func(ctx context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ReadinessHandler()(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessHandler_CriticalFailureReturns503(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "db", Critical: true, Fn: func(ctx context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ReadinessHandler()(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "fail", body["status"])
}

func TestFullHandler_ReportsAllChecks(t *testing.T) {
	r := NewRegistry("1.0.0", "test")
	r.Register(Check{Name: "a", Critical: false, Fn: func(ctx context.Context) error { return nil }})
	r.Register(Check{Name: "b", Critical: true, Fn: func(ctx context.Context) error { return nil }})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.FullHandler()(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, details, 2)
}

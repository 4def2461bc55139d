package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serveReady(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler().LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"up"`)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		critical   map[string]Checker
		optional   map[string]Checker
		wantCode   int
		wantStatus Status
	}{
		{"no checks", nil, nil, http.StatusOK, StatusUp},
		{"all up", map[string]Checker{"postgres": up}, map[string]Checker{"kafka": up}, http.StatusOK, StatusUp},
		{"critical down", map[string]Checker{"postgres": down}, map[string]Checker{"kafka": up}, http.StatusServiceUnavailable, StatusDown},
		{"optional down", map[string]Checker{"postgres": up}, map[string]Checker{"kafka": down}, http.StatusOK, StatusDegraded},
		{"both down", map[string]Checker{"postgres": down}, map[string]Checker{"kafka": down}, http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for n, c := range tt.critical {
				h.Register(n, c)
			}
			for n, c := range tt.optional {
				h.RegisterNonCritical(n, c)
			}

			code, resp := serveReady(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.critical)+len(tt.optional))
		})
	}
}

func TestReadiness_ReportsErrorAndCriticality(t *testing.T) {
	h := NewHandler()
	h.RegisterNonCritical("redis", down)

	_, resp := serveReady(t, h)
	require.Contains(t, resp.Checks, "redis")
	assert.False(t, resp.Checks["redis"].Critical)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
}

func TestRegister_Overwrites(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", down)
	h.Register("postgres", up)

	code, _ := serveReady(t, h)
	assert.Equal(t, http.StatusOK, code)
}

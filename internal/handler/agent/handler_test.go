package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
)

func setupRouter(items []agent.Agent) *chi.Mux {
	r := chi.NewRouter()
	New(agent.NewMemoryStore(items)).RegisterRoutes(r)
	return r
}

func TestListAgents(t *testing.T) {
	r := setupRouter(agent.Seed())

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/agents", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var got []agent.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, agent.Seed(), got)
}

func TestListAgentsEmptyRegistry(t *testing.T) {
	r := setupRouter(nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/agents", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `[]`, resp.Body.String())
}

func TestStatus(t *testing.T) {
	r := setupRouter(nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

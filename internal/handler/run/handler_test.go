package run

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
	runService "github.com/zhouzirui/agent-playground/internal/service/run"
	"github.com/zhouzirui/agent-playground/internal/service/run/runtest"
)

func setupRouter(responder runService.Responder) *chi.Mux {
	runs := runService.NewService(agent.NewMemoryStore(agent.Seed()), chatService.NewService(), responder)
	r := chi.NewRouter()
	New(runs).RegisterRoutes(r)
	return r
}

func parseSSE(t *testing.T, body string) []stream.RunEvent {
	t.Helper()
	var events []stream.RunEvent
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		var ev stream.RunEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateRunStreamsEvents(t *testing.T) {
	r := setupRouter(&runtest.Responder{Chunks: []string{"Hi", " there"}})

	resp := postForm(r, "/agents/claude-agent/runs", url.Values{"message": {"hello"}})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	events := parseSSE(t, resp.Body.String())
	require.Len(t, events, 4)
	require.Equal(t, stream.EventRunStarted, events[0].Event)
	require.Equal(t, "Hi", events[1].Content)
	require.Equal(t, " there", events[2].Content)
	require.Equal(t, stream.EventRunCompleted, events[3].Event)
	require.Equal(t, "Hi there", events[3].Content)
	require.NotEmpty(t, events[0].SessionID)
	require.Equal(t, "claude-agent", events[0].AgentID)
}

func TestCreateRunKeepsSession(t *testing.T) {
	responder := &runtest.Responder{Chunks: []string{"ok"}}
	r := setupRouter(responder)

	first := parseSSE(t, postForm(r, "/agents/claude-agent/runs", url.Values{"message": {"one"}}).Body.String())
	sessionID := first[0].SessionID

	second := parseSSE(t, postForm(r, "/agents/claude-agent/runs", url.Values{
		"message":    {"two"},
		"session_id": {sessionID},
	}).Body.String())
	require.Equal(t, sessionID, second[0].SessionID)
	require.Equal(t, []string{"one", "two"}, responder.Prompts())
}

func TestCreateRunAcceptsJSON(t *testing.T) {
	r := setupRouter(&runtest.Responder{Chunks: []string{"Hello", "!"}})

	req := httptest.NewRequest(http.MethodPost, "/agents/giphy-agent/runs", strings.NewReader(`{"message":"hi","stream":false}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var ev stream.RunEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	require.Equal(t, stream.EventRunCompleted, ev.Event)
	require.Equal(t, "Hello!", ev.Content)
}

func TestCreateRunStreamsModelError(t *testing.T) {
	r := setupRouter(&runtest.Responder{Chunks: []string{"par"}, Err: errors.New("model overloaded")})

	resp := postForm(r, "/agents/claude-agent/runs", url.Values{"message": {"hello"}})

	require.Equal(t, http.StatusOK, resp.Code)
	events := parseSSE(t, resp.Body.String())
	last := events[len(events)-1]
	require.Equal(t, stream.EventRunError, last.Event)
	require.Equal(t, "model overloaded", last.Content)
}

func TestCreateRunErrors(t *testing.T) {
	cases := []struct {
		name      string
		responder runService.Responder
		path      string
		form      url.Values
		want      int
	}{
		{"missing message", &runtest.Responder{}, "/agents/claude-agent/runs", url.Values{}, http.StatusBadRequest},
		{"bad stream flag", &runtest.Responder{}, "/agents/claude-agent/runs", url.Values{"message": {"hi"}, "stream": {"maybe"}}, http.StatusBadRequest},
		{"unknown agent", &runtest.Responder{}, "/agents/nobody/runs", url.Values{"message": {"hi"}}, http.StatusNotFound},
		{"model not configured", nil, "/agents/claude-agent/runs", url.Values{"message": {"hi"}}, http.StatusServiceUnavailable},
		{"generate failure", &runtest.Responder{Err: errors.New("boom")}, "/agents/claude-agent/runs", url.Values{"message": {"hi"}, "stream": {"false"}}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postForm(setupRouter(tc.responder), tc.path, tc.form)
			require.Equal(t, tc.want, resp.Code)
			require.Contains(t, resp.Body.String(), `"error"`)
		})
	}
}

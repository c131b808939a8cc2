package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-playground/internal/model/chat"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatService.Service) {
	chatSvc := chatService.NewService()
	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func TestGetSessionReturnsTranscript(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "claude-agent")
	require.NoError(t, err)
	require.NoError(t, chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.ID, Sender: chat.SenderUser, Content: "hello"}))
	require.NoError(t, chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.ID, Sender: chat.SenderAssistant, Content: "Hi"}))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID, nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var got sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, session.ID, got.ID)
	require.Equal(t, "claude-agent", got.AgentID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "Hi", got.Messages[1].Content)
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))

	require.Equal(t, http.StatusNotFound, resp.Code)
	require.JSONEq(t, `{"error":"session not found"}`, resp.Body.String())
}

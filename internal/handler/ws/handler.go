package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
	runService "github.com/zhouzirui/agent-playground/internal/service/run"
	"github.com/zhouzirui/agent-playground/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Handler WebSocket运行处理器
type Handler struct {
	runs     *runService.Service
	agents   agent.Store
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(runs *runService.Service, agents agent.Store) *Handler {
	return &Handler{
		runs:   runs,
		agents: agents,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents/{agentID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// connection serializes data frames; gorilla allows one concurrent writer.
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) writeEvent(ev stream.RunEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// handleWebSocket 处理WebSocket连接，每条入站消息触发一次运行
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := h.agents.FindByID(agentID); !ok {
		utils.RespondError(w, http.StatusNotFound, "agent not found")
		return
	}

	logger := log.With().Str("component", "ws").Str("agent_id", agentID).Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pingLoop(ctx, conn)

	c := &connection{conn: conn}
	sessionID := ""
	logger.Debug().Msg("connection opened")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}
		next, err := h.serveRun(ctx, c, logger, agentID, sessionID, msg.Message)
		if err != nil {
			logger.Debug().Err(err).Msg("connection closed during run")
			return
		}
		sessionID = next
	}
}

// serveRun executes one run and returns the session id to reuse. A non-nil error
// means the socket is no longer writable.
func (h *Handler) serveRun(ctx context.Context, c *connection, logger zerolog.Logger, agentID, sessionID, message string) (string, error) {
	run, err := h.runs.Prepare(ctx, agentID, sessionID, message)
	if err != nil {
		ev := stream.NewRunEvent(stream.EventRunError, err.Error())
		ev.AgentID = agentID
		ev.SessionID = sessionID
		return sessionID, c.writeEvent(ev)
	}

	writeFailed := false
	runErr := run.Stream(ctx, func(ev stream.RunEvent) error {
		if err := c.writeEvent(ev); err != nil {
			writeFailed = true
			return err
		}
		return nil
	})
	if writeFailed {
		return run.Session.ID, runErr
	}
	if runErr != nil {
		logger.Warn().Err(runErr).Str("run_id", run.ID).Msg("run ended with error")
	}
	return run.Session.ID, nil
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

package playground

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/stream"
)

// WSTransport streams runs over one websocket per agent. Connections are dialed
// lazily and dropped whenever a run does not end cleanly, so the next run redials.
type WSTransport struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	sessions *sessionMemory

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewWSTransport builds a websocket transport for the server at endpoint.
// http and https endpoints are mapped to ws and wss.
func NewWSTransport(endpoint string) *WSTransport {
	return &WSTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		dialer:   websocket.DefaultDialer,
		logger:   log.With().Str("component", "playground-ws").Logger(),
		sessions: newSessionMemory(),
		conns:    make(map[string]*websocket.Conn),
	}
}

// SessionID returns the server session remembered for agentID, if any.
func (t *WSTransport) SessionID(agentID string) string {
	return t.sessions.get(agentID)
}

// Close closes every open connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conn := range t.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
		delete(t.conns, id)
	}
	return nil
}

type wsRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Stream implements the ingestor transport over the agent's websocket.
func (t *WSTransport) Stream(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		conn, rejection, err := t.conn(ctx, req.AgentID)
		if err != nil {
			yield(stream.Event{}, err)
			return
		}
		if rejection != "" {
			yield(stream.Failure(rejection), nil)
			return
		}

		// Closing the socket is the only way to unblock a pending read.
		stop := context.AfterFunc(ctx, func() { conn.Close() })

		clean := false
		defer func() {
			if !stop() || !clean {
				t.drop(req.AgentID, conn)
			}
		}()

		if err := conn.WriteJSON(wsRequest{Message: req.Message, SessionID: t.sessions.get(req.AgentID)}); err != nil {
			yield(stream.Event{}, errors.Wrap(err, "send run request"))
			return
		}

		for {
			var ev stream.RunEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(stream.Event{}, errors.Wrap(err, "read run event"))
				return
			}
			if ev.SessionID != "" {
				t.sessions.set(req.AgentID, ev.SessionID)
			}

			core, ok := ev.Decode()
			if !ok {
				continue
			}
			terminal := core.Kind != stream.KindFragment
			if terminal {
				clean = true
			}
			if !yield(core, nil) || terminal {
				return
			}
		}
	}
}

// conn returns the open connection for agentID, dialing if needed. A handshake
// the server refused with an HTTP error is reported as rejection text.
func (t *WSTransport) conn(ctx context.Context, agentID string) (*websocket.Conn, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[agentID]; ok {
		return conn, "", nil
	}

	target, err := t.wsURL(agentID)
	if err != nil {
		return nil, "", err
	}

	conn, resp, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, responseError(resp), nil
		}
		return nil, "", errors.Wrap(err, "dial websocket")
	}

	t.logger.Debug().Str("agent_id", agentID).Str("url", target).Msg("websocket connected")
	t.conns[agentID] = conn
	return conn, "", nil
}

func (t *WSTransport) drop(agentID string, conn *websocket.Conn) {
	t.mu.Lock()
	if t.conns[agentID] == conn {
		delete(t.conns, agentID)
	}
	t.mu.Unlock()
	conn.Close()
}

func (t *WSTransport) wsURL(agentID string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", t.endpoint)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + "/agents/" + agentID + "/ws"
	return u.String(), nil
}

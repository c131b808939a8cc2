// Package playground talks to an agent playground server over SSE or websockets.
package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
)

const apiPrefix = "/v1/playground"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Leave its Timeout unset:
// it would cut long streaming runs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is the HTTP client for the playground API. Its Stream method is the
// SSE transport for the ingestor.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
	sessions   *sessionMemory
}

// NewClient builds a client for the server at endpoint (e.g. http://localhost:7777).
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: http.DefaultClient,
		logger:     log.With().Str("component", "playground-client").Logger(),
		sessions:   newSessionMemory(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the server session remembered for agentID, if any.
func (c *Client) SessionID(agentID string) string {
	return c.sessions.get(agentID)
}

// ListAgents fetches the agents hosted by the server.
func (c *Client) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+apiPrefix+"/agents", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "list agents")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("list agents: %s", responseError(resp))
	}

	var agents []agent.Agent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return nil, errors.Wrap(err, "decode agents")
	}
	return agents, nil
}

// Stream posts the message as a streaming run and yields core events as SSE
// frames arrive. Non-2xx responses become a single error event; dial and read
// failures are yielded as errors.
func (c *Client) Stream(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		form := url.Values{}
		form.Set("message", req.Message)
		form.Set("stream", "true")
		if sid := c.sessions.get(req.AgentID); sid != "" {
			form.Set("session_id", sid)
		}

		runURL := c.endpoint + apiPrefix + "/agents/" + url.PathEscape(req.AgentID) + "/runs"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, strings.NewReader(form.Encode()))
		if err != nil {
			yield(stream.Event{}, errors.Wrap(err, "build run request"))
			return
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(stream.Event{}, errors.Wrap(err, "post run"))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(stream.Failure(responseError(resp)), nil)
			return
		}

		var decodeErr error
		stopped := false
		readErr := readFrames(resp.Body, func(data string) bool {
			var ev stream.RunEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				decodeErr = errors.Wrap(err, "decode run event")
				return false
			}
			if ev.SessionID != "" {
				c.sessions.set(req.AgentID, ev.SessionID)
			}
			core, ok := ev.Decode()
			if !ok {
				c.logger.Debug().Str("event", ev.Event).Msg("skipping run event")
				return true
			}
			if !yield(core, nil) {
				stopped = true
				return false
			}
			return core.Kind == stream.KindFragment
		})
		if stopped {
			return
		}

		switch {
		case decodeErr != nil:
			yield(stream.Event{}, decodeErr)
		case readErr != nil:
			yield(stream.Event{}, errors.Wrap(readErr, "read run stream"))
		}
	}
}

// responseError extracts the {"error": ...} message of a failed response.
func responseError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Sprintf("server returned %d: %s", resp.StatusCode, text)
	}
	return fmt.Sprintf("server returned %d", resp.StatusCode)
}

// sessionMemory keeps the server session id per agent for the client's lifetime.
type sessionMemory struct {
	mu  sync.Mutex
	ids map[string]string
}

func newSessionMemory() *sessionMemory {
	return &sessionMemory{ids: make(map[string]string)}
}

func (m *sessionMemory) get(agentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[agentID]
}

func (m *sessionMemory) set(agentID, sessionID string) {
	m.mu.Lock()
	m.ids[agentID] = sessionID
	m.mu.Unlock()
}

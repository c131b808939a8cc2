package run

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/stream"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
	runService "github.com/zhouzirui/agent-playground/internal/service/run"
	"github.com/zhouzirui/agent-playground/pkg/utils"
)

// Handler streams agent runs via Server-Sent Events
type Handler struct {
	runs *runService.Service
}

// New creates a new run handler
func New(runs *runService.Service) *Handler {
	return &Handler{runs: runs}
}

// RegisterRoutes 注册运行相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/agents/{agentID}/runs", h.handleCreateRun)
}

type runRequest struct {
	Message   string `json:"message"`
	Stream    *bool  `json:"stream"`
	SessionID string `json:"session_id"`
}

func (req runRequest) streaming() bool {
	return req.Stream == nil || *req.Stream
}

// decodeRunRequest accepts JSON bodies as well as urlencoded or multipart forms.
func decodeRunRequest(r *http.Request) (runRequest, error) {
	var req runRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return runRequest{}, errors.Wrap(err, "decode json body")
		}
		return req, nil
	}

	req.Message = r.FormValue("message")
	req.SessionID = r.FormValue("session_id")
	if raw := strings.TrimSpace(r.FormValue("stream")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return runRequest{}, errors.Wrapf(err, "invalid stream value %q", raw)
		}
		req.Stream = &val
	}
	return req, nil
}

// handleCreateRun 启动一次智能体运行
func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	logger := log.With().Str("component", "run-handler").Str("agent_id", agentID).Logger()

	req, err := decodeRunRequest(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	run, err := h.runs.Prepare(ctx, agentID, req.SessionID, req.Message)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	if !req.streaming() {
		event, err := run.Generate(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("run_id", run.ID).Msg("run failed")
			utils.RespondError(w, http.StatusBadGateway, "agent run failed: "+err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusOK, event)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	err = run.Stream(ctx, func(ev stream.RunEvent) error {
		return utils.SendSSEChunk(w, flusher, ev)
	})
	if err != nil {
		logger.Warn().Err(err).Str("run_id", run.ID).Msg("run ended with error")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, runService.ErrMessageRequired):
		return http.StatusBadRequest
	case errors.Is(err, runService.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrAgentMismatch):
		return http.StatusConflict
	case errors.Is(err, runService.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

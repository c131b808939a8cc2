package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agentHandler "github.com/zhouzirui/agent-playground/internal/handler/agent"
	runHandler "github.com/zhouzirui/agent-playground/internal/handler/run"
	sessionHandler "github.com/zhouzirui/agent-playground/internal/handler/session"
	wsHandler "github.com/zhouzirui/agent-playground/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/agent-playground/internal/middleware"
	"github.com/zhouzirui/agent-playground/internal/model/agent"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
	runService "github.com/zhouzirui/agent-playground/internal/service/run"
)

// PlaygroundPrefix is where the playground API is mounted.
const PlaygroundPrefix = "/v1/playground"

// NewRouter wires HTTP routes to core services.
func NewRouter(agents agent.Store, chatSvc *chatService.Service, runs *runService.Service, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Route(PlaygroundPrefix, func(api chi.Router) {
		agentHandler.New(agents).RegisterRoutes(api)
		runHandler.New(runs).RegisterRoutes(api)
		wsHandler.New(runs, agents).RegisterRoutes(api)
		sessionHandler.New(chatSvc).RegisterRoutes(api)
	})

	return r
}

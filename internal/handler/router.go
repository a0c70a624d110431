package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-insight/backend/internal/handler/analyze"
	sessionhandler "github.com/zhouzirui/z-insight/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/z-insight/backend/internal/middleware"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
	sessionsvc "github.com/zhouzirui/z-insight/backend/internal/service/session"
	"github.com/zhouzirui/z-insight/backend/internal/stream"
	"github.com/zhouzirui/z-insight/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface needs.
type Dependencies struct {
	Sessions     *sessionsvc.Store
	Orchestrator *pipeline.Orchestrator
	Registry     *pipeline.Registry
	Hub          *stream.Hub
	MaxUpload    int64
	Logger       zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := sessionhandler.New(deps.Sessions)
	analyzeHandler := analyze.New(deps.Orchestrator, deps.Sessions, deps.Hub, deps.MaxUpload)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		analyzeHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":        "healthy",
				"sessions":      deps.Sessions.Len(),
				"stages":        deps.Orchestrator.Total(),
				"transcription": deps.Registry != nil && deps.Registry.CanTranscribe(),
			})
		})
	})

	return r
}

package handler

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/health"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/voice-relay/backend/internal/middleware"
	personaModel "github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	relayService "github.com/zhouzirui/voice-relay/backend/internal/service/relay"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, personas personaModel.Store, issuer session.Issuer, relaySvc *relayService.Service, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLog(logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	health.New(cfg, relaySvc).RegisterRoutes(r)
	relay.New(relaySvc, logger).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)
		session.New(issuer, personas, cfg.Relay.Persona, logger).RegisterRoutes(api)
	})

	// 存在静态目录时托管浏览器客户端
	if dir := cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			logger.Debug().Str("dir", dir).Msg("static directory not found, skipping")
		}
	}

	return r
}

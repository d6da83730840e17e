package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// Version is reported by /api/info.
const Version = "1.0.0"

// SessionCounter reports how many relay sessions are live.
type SessionCounter interface {
	ActiveSessions() int
}

// Handler 提供健康检查与服务信息接口。
type Handler struct {
	cfg      *config.Config
	sessions SessionCounter
	now      func() time.Time
}

// New 创建健康检查处理器
func New(cfg *config.Config, sessions SessionCounter) *Handler {
	return &Handler{cfg: cfg, sessions: sessions, now: time.Now}
}

// RegisterRoutes mounts /health and /api/info on the root router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/api/info", h.handleInfo)
}

type healthResponse struct {
	Status               string `json:"status"`
	Timestamp            string `json:"timestamp"`
	OpenAIConfigured     bool   `json:"openai_configured"`
	ElevenLabsConfigured bool   `json:"elevenlabs_configured"`
	ActiveSessions       int    `json:"active_sessions"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	if h.sessions != nil {
		active = h.sessions.ActiveSessions()
	}
	utils.RespondJSON(w, http.StatusOK, healthResponse{
		Status:               "ok",
		Timestamp:            h.now().UTC().Format(time.RFC3339),
		OpenAIConfigured:     h.cfg.OpenAI.Enabled(),
		ElevenLabsConfigured: h.cfg.ElevenLabs.Enabled(),
		ActiveSessions:       active,
	})
}

type infoResponse struct {
	Version   string            `json:"version"`
	Model     string            `json:"model"`
	Endpoints map[string]string `json:"endpoints"`
	TTS       ttsInfo           `json:"tts"`
}

type ttsInfo struct {
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
	OutputFormat string `json:"output_format"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, infoResponse{
		Version: Version,
		Model:   h.cfg.OpenAI.Model,
		Endpoints: map[string]string{
			"relay":    "/ws",
			"session":  "/api/session",
			"personas": "/api/personas",
			"health":   "/health",
			"info":     "/api/info",
		},
		TTS: ttsInfo{
			Model:        h.cfg.ElevenLabs.ModelID,
			Voice:        h.cfg.ElevenLabs.VoiceID,
			OutputFormat: h.cfg.ElevenLabs.OutputFormat,
		},
	})
}

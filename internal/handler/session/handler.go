package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/service/credential"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// Issuer is the subset of *credential.Issuer the handler needs.
type Issuer interface {
	Model() string
	Issue(ctx context.Context, instructions string) (*credential.Credential, error)
}

// Handler 为浏览器直连模式签发临时凭证。
type Handler struct {
	issuer         Issuer
	personas       persona.Store
	defaultPersona string
	logger         zerolog.Logger
}

// New 创建凭证处理器
func New(issuer Issuer, personas persona.Store, defaultPersona string, logger zerolog.Logger) *Handler {
	return &Handler{
		issuer:         issuer,
		personas:       personas,
		defaultPersona: defaultPersona,
		logger:         logger.With().Str("component", "session_handler").Logger(),
	}
}

// RegisterRoutes 注册凭证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleCreate)
	r.Post("/session", h.handleCreate)
}

type sessionResponse struct {
	ClientSecret json.RawMessage `json:"client_secret"`
	Model        string          `json:"model"`
	ExpiresAt    int64           `json:"expires_at,omitempty"`
}

type upstreamErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var instructions string
	if p, ok := persona.Resolve(h.personas, r.URL.Query().Get("persona"), h.defaultPersona); ok {
		instructions = p.Instructions
	}

	cred, err := h.issuer.Issue(r.Context(), instructions)
	if err != nil {
		h.respondIssueError(w, err)
		return
	}

	resp := sessionResponse{
		ClientSecret: cred.Raw,
		Model:        cred.Model,
	}
	if len(resp.ClientSecret) == 0 {
		resp.ClientSecret, _ = json.Marshal(map[string]string{"value": cred.Value})
	}
	if resp.Model == "" {
		resp.Model = h.issuer.Model()
	}
	if !cred.ExpiresAt.IsZero() {
		resp.ExpiresAt = cred.ExpiresAt.Unix()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondIssueError(w http.ResponseWriter, err error) {
	if errors.Is(err, credential.ErrMissingAPIKey) {
		h.logger.Error().Msg("OPENAI_API_KEY is not configured")
		utils.RespondError(w, http.StatusInternalServerError, "API key is not configured")
		return
	}
	if upstream, ok := credential.AsUpstreamError(err); ok {
		utils.RespondJSON(w, upstream.Status, upstreamErrorResponse{
			Error:   "failed to create realtime session",
			Status:  upstream.Status,
			Details: upstream.Body,
		})
		return
	}
	h.logger.Error().Err(err).Str("reason", string(errorsx.Reason(err))).Msg("issue client secret failed")
	utils.RespondError(w, http.StatusBadGateway, errorsx.ClientMessage(err))
}

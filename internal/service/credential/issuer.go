package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
)

const clientSecretsPath = "/v1/realtime/client_secrets"

// ErrMissingAPIKey 表示服务端没有配置 OPENAI_API_KEY。
var ErrMissingAPIKey = errorsx.New(errorsx.ReasonConfigMissing, "OPENAI_API_KEY is not configured")

// Credential is a short-lived bearer value for one realtime connection.
type Credential struct {
	Value     string
	ExpiresAt time.Time
	Model     string
	// Raw is the upstream response body, returned as-is by the HTTP endpoint.
	Raw json.RawMessage
}

// Expired reports whether the credential is no longer usable at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// UpstreamError 表示凭证服务返回了非 2xx 响应。
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("credential upstream returned %d", e.Status)
}

// AsUpstreamError extracts an *UpstreamError from err.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Issuer mints ephemeral realtime credentials from the server-held API key.
type Issuer struct {
	apiKey  string
	baseURL string
	model   string
	ttl     time.Duration
	client  *http.Client
	logger  zerolog.Logger
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithHTTPClient overrides the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Issuer) {
		if client != nil {
			i.client = client
		}
	}
}

// NewIssuer 根据 OpenAI 配置创建凭证签发器。
func NewIssuer(cfg config.OpenAIConfig, logger zerolog.Logger, opts ...Option) *Issuer {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	issuer := &Issuer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		ttl:     ttl,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "credential").Logger(),
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer
}

// Configured reports whether an API key is present.
func (i *Issuer) Configured() bool {
	return i.apiKey != ""
}

// Model returns the realtime model the issuer requests.
func (i *Issuer) Model() string {
	return i.model
}

type clientSecretRequest struct {
	ExpiresAfter struct {
		Anchor  string `json:"anchor"`
		Seconds int    `json:"seconds"`
	} `json:"expires_after"`
	Session struct {
		Type         string `json:"type"`
		Model        string `json:"model"`
		Instructions string `json:"instructions,omitempty"`
	} `json:"session"`
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
	Session   struct {
		Model string `json:"model"`
	} `json:"session"`
}

// Issue 向上游申请一个临时凭证。instructions 为空时不下发人设指令。
func (i *Issuer) Issue(ctx context.Context, instructions string) (*Credential, error) {
	if !i.Configured() {
		return nil, ErrMissingAPIKey
	}

	var body clientSecretRequest
	body.ExpiresAfter.Anchor = "created_at"
	body.ExpiresAfter.Seconds = int(i.ttl / time.Second)
	body.Session.Type = "realtime"
	body.Session.Model = i.model
	body.Session.Instructions = instructions

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal client secret request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+clientSecretsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("build client secret request: %w", err), errorsx.ReasonCredentialIssue)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+i.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Request-Id", requestID)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("request client secret: %w", err), errorsx.ReasonCredentialIssue)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("read client secret response: %w", err), errorsx.ReasonCredentialIssue)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		i.logger.Warn().
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Msg("client secret request rejected")
		return nil, errorsx.Wrap(&UpstreamError{Status: resp.StatusCode, Body: string(raw)}, errorsx.ReasonCredentialIssue)
	}

	var decoded clientSecretResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode client secret response: %w", err), errorsx.ReasonCredentialIssue)
	}
	if decoded.Value == "" {
		return nil, errorsx.New(errorsx.ReasonCredentialIssue, "client secret response has no value")
	}

	cred := &Credential{
		Value: decoded.Value,
		Model: decoded.Session.Model,
		Raw:   json.RawMessage(raw),
	}
	if cred.Model == "" {
		cred.Model = i.model
	}
	if decoded.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(decoded.ExpiresAt, 0).UTC()
	}

	i.logger.Debug().
		Str("request_id", requestID).
		Time("expires_at", cred.ExpiresAt).
		Msg("client secret issued")

	return cred, nil
}

package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/service/credential"
	"github.com/zhouzirui/voice-relay/backend/internal/service/realtime"
	"github.com/zhouzirui/voice-relay/backend/internal/service/tts"
)

// Options 描述每个会话共享的中继参数。
type Options struct {
	Flush          FlushPolicy
	CloseGrace     time.Duration
	MailboxSize    int
	DefaultPersona string
	Conversation   config.OpenAIConfig
	Speech         tts.Settings
	// Schedule overrides the timer used for idle flushes and the close grace.
	Schedule ScheduleFunc
}

// OptionsFromConfig builds Options from the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Flush: FlushPolicy{
			Threshold: cfg.Relay.FlushThreshold,
			Delay:     cfg.Relay.FlushDelay,
		},
		CloseGrace:     cfg.Relay.CloseGrace,
		MailboxSize:    cfg.Relay.MailboxSize,
		DefaultPersona: cfg.Relay.Persona,
		Conversation:   cfg.OpenAI,
		Speech:         tts.SettingsFromConfig(cfg.ElevenLabs),
	}
}

// Dependencies are the upstream collaborators shared by all sessions.
type Dependencies struct {
	Issuer       CredentialIssuer
	Conversation ConversationDialer
	Speech       SpeechDialer
	Personas     persona.Store
}

// NewDependencies wires the production upstream clients. The issuer is
// shared with the /api/session endpoint.
func NewDependencies(cfg *config.Config, issuer *credential.Issuer, personas persona.Store, logger zerolog.Logger) Dependencies {
	return Dependencies{
		Issuer:       issuer,
		Conversation: realtimeDialer{d: realtime.NewDialer(cfg.OpenAI, logger)},
		Speech:       speechDialer{d: tts.NewDialer(cfg.ElevenLabs, logger)},
		Personas:     personas,
	}
}

type realtimeDialer struct {
	d *realtime.Dialer
}

func (a realtimeDialer) Dial(ctx context.Context, cred *credential.Credential, settings realtime.SessionSettings) (ConversationLink, error) {
	link, err := a.d.Dial(ctx, cred, settings)
	if err != nil {
		return nil, err
	}
	return link, nil
}

type speechDialer struct {
	d *tts.Dialer
}

func (a speechDialer) Dial(ctx context.Context, settings tts.Settings) (SpeechLink, error) {
	link, err := a.d.Dial(ctx, settings)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Service creates and tracks relay sessions.
type Service struct {
	deps     Dependencies
	opts     Options
	registry *Registry
	logger   zerolog.Logger
}

// NewService 创建中继服务实例
func NewService(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		deps:     deps,
		opts:     opts,
		registry: NewRegistry(),
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Open starts a session writing to client. The session stops when ctx is
// cancelled, the client disconnects, or the Conversation Link fails.
func (svc *Service) Open(ctx context.Context, client ClientSink) *Session {
	s := newSession(uuid.NewString(), client, svc.deps, svc.opts, svc.logger)
	svc.registry.Add(s)
	svc.logger.Info().Str("session_id", s.ID()).Int("active", svc.registry.Count()).Msg("session opened")

	go func() {
		s.Run(ctx)
		svc.registry.Remove(s.ID())
	}()
	return s
}

// ActiveSessions returns the number of live sessions.
func (svc *Service) ActiveSessions() int {
	return svc.registry.Count()
}

// Shutdown disconnects every session and waits for them to finish.
func (svc *Service) Shutdown(ctx context.Context) error {
	return svc.registry.CloseAll(ctx, "server shutdown")
}

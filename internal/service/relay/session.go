package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	relaymodel "github.com/zhouzirui/voice-relay/backend/internal/model/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/service/credential"
	"github.com/zhouzirui/voice-relay/backend/internal/service/realtime"
	"github.com/zhouzirui/voice-relay/backend/internal/service/tts"
)

// CredentialIssuer mints the short-lived credential for a Conversation Link.
type CredentialIssuer interface {
	Issue(ctx context.Context, instructions string) (*credential.Credential, error)
}

// ConversationLink is an open connection to the conversational-AI service.
type ConversationLink interface {
	Start(cb realtime.Callbacks)
	Send(raw []byte) error
	Close() error
}

// ConversationDialer opens Conversation Links.
type ConversationDialer interface {
	Dial(ctx context.Context, cred *credential.Credential, settings realtime.SessionSettings) (ConversationLink, error)
}

// SpeechLink is an open connection to the streaming TTS service.
type SpeechLink interface {
	Start(cb tts.Callbacks)
	SendSpan(span relaymodel.TranscriptSpan) error
	EndUtterance() error
	Close() error
}

// SpeechDialer opens Speech Links.
type SpeechDialer interface {
	Dial(ctx context.Context, settings tts.Settings) (SpeechLink, error)
}

// ClientSink writes to the client connection. Only the session loop calls it.
type ClientSink interface {
	WriteJSON(v any) error
	WriteText(raw []byte) error
}

// speechOp is a queued Speech Link operation: a span, or end-of-utterance.
type speechOp struct {
	span relaymodel.TranscriptSpan
	end  bool
}

// speechSlot is the session's view of its Speech Link. link == nil means
// absent; connecting means a dial is in flight.
type speechSlot struct {
	link       SpeechLink
	connecting bool
	// draining is set once end-of-utterance went out on link and cleared by
	// the final chunk.
	draining bool
	queue    []speechOp
	// failed suppresses speech for the rest of the turn.
	failed bool
}

func (s speechSlot) busy() bool {
	return s.connecting || s.draining || len(s.queue) > 0
}

type turnState struct {
	spans int
	ended bool
}

// Session relays one client connection. All state below mailbox is owned by
// the goroutine running Run.
type Session struct {
	id     string
	opts   Options
	deps   Dependencies
	client ClientSink
	logger zerolog.Logger

	mailbox  chan event
	stopping chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	dials    sync.WaitGroup

	life    Lifecycle
	persona persona.Persona
	conv    ConversationLink
	speech  speechSlot
	flush   *FlushController
	turn    turnState
	grace   Timer
}

func newSession(id string, client ClientSink, deps Dependencies, opts Options, logger zerolog.Logger) *Session {
	size := opts.MailboxSize
	if size <= 0 {
		size = 256
	}
	if opts.Schedule == nil {
		opts.Schedule = afterFunc
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       id,
		opts:     opts,
		deps:     deps,
		client:   client,
		logger:   logger.With().Str("session_id", id).Logger(),
		mailbox:  make(chan event, size),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.flush = NewFlushController(opts.Flush, opts.Schedule, func(token uint64) {
		s.post(flushDueEvent{token: token})
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Deliver queues a client text frame. It returns false once the session has
// stopped.
func (s *Session) Deliver(raw []byte) bool {
	return s.post(clientFrameEvent{raw: raw})
}

// Disconnect starts teardown. Calling it again, or after a fatal error, is a
// no-op.
func (s *Session) Disconnect(reason string) {
	s.post(clientClosedEvent{reason: reason})
}

// Done is closed after Run returns and every upstream link is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes mailbox events until the session reaches CLOSED. Cancelling
// ctx starts teardown.
func (s *Session) Run(ctx context.Context) {
	defer s.shutdown()

	ctxDone := ctx.Done()
	for s.life.Current() != StateClosed {
		select {
		case ev := <-s.mailbox:
			s.handle(ev)
		case <-ctxDone:
			ctxDone = nil
			s.beginTeardown("server shutdown")
		}
	}
}

func (s *Session) shutdown() {
	close(s.stopping)
	s.cancel()
	s.dials.Wait()
	for {
		select {
		case ev := <-s.mailbox:
			release(ev)
		default:
			close(s.done)
			return
		}
	}
}

func (s *Session) post(ev event) bool {
	select {
	case <-s.stopping:
		return false
	default:
	}
	select {
	case s.mailbox <- ev:
		return true
	case <-s.stopping:
		return false
	}
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case clientFrameEvent:
		s.onClientFrame(e.raw)
	case clientClosedEvent:
		s.beginTeardown(e.reason)
	case conversationOpenedEvent:
		s.onConversationOpened(e)
	case conversationEvent:
		if e.link == s.conv && s.life.Live() {
			s.onUpstream(e.ev)
		}
	case conversationClosedEvent:
		s.onConversationClosed(e)
	case speechOpenedEvent:
		s.onSpeechOpened(e)
	case speechChunkEvent:
		if e.link == s.speech.link && e.link != nil {
			s.send(relaymodel.NewAudioDelta(e.chunk))
		}
	case speechFinalEvent:
		s.onSpeechFinal(e)
	case speechClosedEvent:
		s.onSpeechClosed(e)
	case flushDueEvent:
		if s.life.Live() {
			if span, ok := s.flush.Fire(e.token); ok {
				s.emitSpan(span)
			}
		}
	case graceExpiredEvent:
		if s.life.Current() == StateClosing {
			s.finish()
		}
	}
}

func (s *Session) onClientFrame(raw []byte) {
	var env relaymodel.ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn().Err(errorsx.Wrap(err, errorsx.ReasonProtocolParse)).Msg("dropping malformed client message")
		return
	}
	if env.Type == "" {
		s.logger.Warn().Msg("dropping client message without type")
		return
	}

	if env.Type == relaymodel.TypeInit {
		s.startConversation(env.Persona)
		return
	}

	if s.conv == nil || !s.life.Live() {
		s.logger.Debug().Str("type", env.Type).Stringer("state", s.life.Current()).Msg("dropping client message before ready")
		return
	}
	if err := s.conv.Send(raw); err != nil {
		s.fail(err)
	}
}

func (s *Session) startConversation(personaID string) {
	if s.life.Current() != StateNew {
		s.logger.Debug().Msg("ignoring repeated init")
		return
	}
	if p, ok := persona.Resolve(s.deps.Personas, personaID, s.opts.DefaultPersona); ok {
		s.persona = p
	}
	s.moveTo(StateAIConnecting)

	instructions := s.persona.Instructions
	settings := realtime.SettingsFromConfig(s.opts.Conversation, instructions)
	ctx := s.ctx

	s.dials.Add(1)
	go func() {
		defer s.dials.Done()
		link, err := s.openConversation(ctx, instructions, settings)
		if !s.post(conversationOpenedEvent{link: link, err: err}) && link != nil {
			_ = link.Close()
		}
	}()
}

func (s *Session) openConversation(ctx context.Context, instructions string, settings realtime.SessionSettings) (ConversationLink, error) {
	cred, err := s.deps.Issuer.Issue(ctx, instructions)
	if err != nil {
		return nil, err
	}
	return s.deps.Conversation.Dial(ctx, cred, settings)
}

func (s *Session) onConversationOpened(e conversationOpenedEvent) {
	if s.life.Current() != StateAIConnecting {
		if e.link != nil {
			_ = e.link.Close()
		}
		return
	}
	if e.err != nil {
		s.fail(e.err)
		return
	}

	link := e.link
	s.conv = link
	link.Start(realtime.Callbacks{
		OnEvent: func(ev realtime.Event) { s.post(conversationEvent{link: link, ev: ev}) },
		OnClose: func(err error) { s.post(conversationClosedEvent{link: link, err: err}) },
	})
	s.moveTo(StateReady)
	s.send(relaymodel.NewSessionReady(s.id, s.persona.ID))
	s.logger.Info().Str("persona", s.persona.ID).Msg("session ready")
}

func (s *Session) onConversationClosed(e conversationClosedEvent) {
	if e.link != s.conv || s.conv == nil {
		return
	}
	_ = s.conv.Close()
	s.conv = nil

	err := e.err
	if err == nil {
		err = errorsx.New(errorsx.ReasonAISocket, "conversation link closed")
	}
	s.fail(err)
}

func (s *Session) onUpstream(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindTranscriptDelta:
		s.onDelta(ev.Delta)
	case realtime.KindCompletion:
		s.completeTurn()
	case realtime.KindResponseCreated:
		s.startTurn()
		s.sendRaw(ev.Raw)
	case realtime.KindAudio:
		// speech output comes from the Speech Link only
	case realtime.KindError:
		s.logger.Warn().Str("code", ev.ErrorCode).Str("upstream_message", ev.ErrorMsg).Msg("conversation service error")
		s.send(relaymodel.NewError(ev.ErrorCode, "the conversation service reported an error"))
	default:
		s.sendRaw(ev.Raw)
	}
}

// startTurn drops text left over from the previous response.
func (s *Session) startTurn() {
	s.flush.Discard()
	s.turn = turnState{}
	s.speech.failed = false
}

func (s *Session) onDelta(delta string) {
	if s.turn.ended {
		s.turn = turnState{}
		s.speech.failed = false
	}
	if s.life.Current() == StateReady {
		s.moveTo(StateStreaming)
	}
	if span, ok := s.flush.Append(delta); ok {
		s.emitSpan(span)
	}
}

func (s *Session) completeTurn() {
	if s.turn.ended {
		return
	}
	if span, ok := s.flush.Flush(); ok {
		s.emitSpan(span)
	}
	s.turn.ended = true
	if s.turn.spans > 0 {
		s.requestEnd()
	}
	s.settle()
}

// settle returns to READY once the turn has ended and no audio is pending.
func (s *Session) settle() {
	if s.life.Current() == StateStreaming && s.turn.ended && !s.speech.busy() {
		s.moveTo(StateReady)
	}
}

func (s *Session) emitSpan(span relaymodel.TranscriptSpan) {
	s.turn.spans++
	if s.speech.failed {
		s.logger.Debug().Uint64("seq", span.Seq).Msg("speech unavailable this turn, dropping span")
		return
	}
	s.speech.queue = append(s.speech.queue, speechOp{span: span})
	s.pumpSpeech()
}

func (s *Session) requestEnd() {
	if s.speech.failed {
		return
	}
	if s.speech.link == nil && !s.speech.connecting && len(s.speech.queue) == 0 {
		return
	}
	s.speech.queue = append(s.speech.queue, speechOp{end: true})
	s.pumpSpeech()
}

// pumpSpeech sends queued operations in order, opening the link when needed.
func (s *Session) pumpSpeech() {
	for len(s.speech.queue) > 0 {
		if s.speech.link == nil {
			// a fresh connection has nothing to end
			for !s.speech.connecting && len(s.speech.queue) > 0 && s.speech.queue[0].end {
				s.speech.queue = s.speech.queue[1:]
			}
			if len(s.speech.queue) == 0 {
				return
			}
			if !s.speech.connecting {
				s.openSpeech()
			}
			return
		}
		if s.speech.draining {
			return
		}

		op := s.speech.queue[0]
		s.speech.queue = s.speech.queue[1:]

		var err error
		if op.end {
			err = s.speech.link.EndUtterance()
			s.speech.draining = err == nil
		} else {
			err = s.speech.link.SendSpan(op.span)
		}
		if err != nil {
			s.speechFailed(err)
			return
		}
	}
}

func (s *Session) openSpeech() {
	settings := s.opts.Speech
	if s.persona.VoiceID != "" {
		settings.VoiceID = s.persona.VoiceID
	}
	s.speech.connecting = true
	ctx := s.ctx

	s.dials.Add(1)
	go func() {
		defer s.dials.Done()
		link, err := s.deps.Speech.Dial(ctx, settings)
		if !s.post(speechOpenedEvent{link: link, err: err}) && link != nil {
			_ = link.Close()
		}
	}()
}

func (s *Session) onSpeechOpened(e speechOpenedEvent) {
	if s.life.Ending() || !s.speech.connecting {
		if e.link != nil {
			_ = e.link.Close()
		}
		return
	}
	s.speech.connecting = false
	if e.err != nil {
		s.speechFailed(e.err)
		return
	}

	link := e.link
	s.speech.link = link
	link.Start(tts.Callbacks{
		OnChunk: func(chunk relaymodel.AudioChunk) { s.post(speechChunkEvent{link: link, chunk: chunk}) },
		OnFinal: func() { s.post(speechFinalEvent{link: link}) },
		OnClose: func(err error) { s.post(speechClosedEvent{link: link, err: err}) },
	})
	s.pumpSpeech()
}

func (s *Session) onSpeechFinal(e speechFinalEvent) {
	if e.link != s.speech.link || e.link == nil {
		return
	}
	s.send(relaymodel.NewAudioDone(relaymodel.SourceTTS))
	s.speech.draining = false

	if s.life.Current() == StateClosing {
		s.finish()
		return
	}
	if len(s.speech.queue) > 0 {
		// Text arrived after end-of-utterance; continue on a fresh connection.
		_ = s.speech.link.Close()
		s.speech.link = nil
		s.pumpSpeech()
	}
	s.settle()
}

func (s *Session) onSpeechClosed(e speechClosedEvent) {
	if e.link != s.speech.link || e.link == nil {
		return
	}
	_ = s.speech.link.Close()
	s.speech.link = nil
	s.speech.draining = false

	if s.life.Current() == StateClosing {
		s.finish()
		return
	}
	if e.err != nil {
		s.logger.Warn().Err(e.err).Msg("speech link dropped")
		s.send(relaymodel.NewError(string(errorsx.Reason(e.err)), errorsx.ClientMessage(e.err)))
	}
	s.pumpSpeech()
	s.settle()
}

// speechFailed disables speech until the next turn. The session continues.
func (s *Session) speechFailed(err error) {
	s.logger.Warn().Err(err).Msg("speech link failed")
	s.send(relaymodel.NewError(string(errorsx.Reason(err)), errorsx.ClientMessage(err)))
	if s.speech.link != nil {
		_ = s.speech.link.Close()
	}
	s.speech = speechSlot{failed: true}
	s.settle()
}

// fail reports err to the client once and tears the session down.
func (s *Session) fail(err error) {
	if s.life.Ending() {
		return
	}
	s.logger.Error().Err(err).Str("reason", string(errorsx.Reason(err))).Msg("session failed")
	s.send(relaymodel.NewError(string(errorsx.Reason(err)), errorsx.ClientMessage(err)))
	s.beginTeardown("fatal error")
}

// beginTeardown is idempotent. With an open Speech Link it sends
// end-of-utterance and waits for the final chunk, the link closing, or the
// grace timer before reaching CLOSED.
func (s *Session) beginTeardown(reason string) {
	if s.life.Ending() {
		return
	}
	s.moveTo(StateClosing)
	s.logger.Info().Str("reason", reason).Msg("session closing")

	s.flush.Discard()
	s.cancel()

	if s.conv != nil {
		_ = s.conv.Close()
		s.conv = nil
	}

	s.speech.queue = nil
	s.speech.connecting = false
	if s.speech.link != nil {
		if !s.speech.draining {
			if err := s.speech.link.EndUtterance(); err != nil {
				s.logger.Debug().Err(err).Msg("end of utterance on teardown failed")
			}
			s.speech.draining = true
		}
		if s.opts.CloseGrace > 0 {
			s.grace = s.opts.Schedule(s.opts.CloseGrace, func() {
				s.post(graceExpiredEvent{})
			})
			return
		}
	}
	s.finish()
}

func (s *Session) finish() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.speech.link != nil {
		_ = s.speech.link.Close()
	}
	s.speech = speechSlot{}
	s.moveTo(StateClosed)
	s.logger.Info().Msg("session closed")
}

func (s *Session) moveTo(next State) {
	from := s.life.Current()
	if err := s.life.Transition(next); err != nil {
		s.logger.Error().Err(err).Msg("lifecycle transition rejected")
		return
	}
	s.logger.Debug().Stringer("from", from).Stringer("to", next).Msg("state change")
}

func (s *Session) send(v any) {
	if err := s.client.WriteJSON(v); err != nil {
		s.logger.Debug().Err(errorsx.Wrap(err, errorsx.ReasonClientSend)).Msg("client write failed")
	}
}

func (s *Session) sendRaw(raw []byte) {
	if err := s.client.WriteText(raw); err != nil {
		s.logger.Debug().Err(errorsx.Wrap(err, errorsx.ReasonClientSend)).Msg("client write failed")
	}
}

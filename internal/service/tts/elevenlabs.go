package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
	relaymodel "github.com/zhouzirui/voice-relay/backend/internal/model/relay"
)

const writeTimeout = 5 * time.Second

// Settings 描述每条 TTS 连接的一次性合成配置。
type Settings struct {
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
	ChunkSchedule   []int
}

// SettingsFromConfig builds Settings from the ElevenLabs config block.
func SettingsFromConfig(cfg config.ElevenLabsConfig) Settings {
	return Settings{
		VoiceID:         cfg.VoiceID,
		ModelID:         cfg.ModelID,
		OutputFormat:    cfg.OutputFormat,
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		Style:           cfg.Style,
		SpeakerBoost:    cfg.SpeakerBoost,
		ChunkSchedule:   append([]int(nil), cfg.ChunkSchedule...),
	}
}

// Callbacks receive synthesis output from the read goroutine, in arrival order.
type Callbacks struct {
	OnChunk func(relaymodel.AudioChunk)
	OnFinal func()
	// OnClose fires once. err is nil for a local close or a normal upstream close.
	OnClose func(err error)
}

// Dialer opens Speech Links to ElevenLabs stream-input.
type Dialer struct {
	apiKey  string
	baseURL string
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewDialer 创建 ElevenLabs 流式合成拨号器。
func NewDialer(cfg config.ElevenLabsConfig, logger zerolog.Logger) *Dialer {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dialer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: logger.With().Str("link", "speech").Logger(),
	}
}

func (d *Dialer) streamURL(s Settings) (string, error) {
	base := d.baseURL
	if base == "" {
		base = "wss://api.elevenlabs.io"
	}
	u, err := url.Parse(base + "/v1/text-to-speech/" + url.PathEscape(s.VoiceID) + "/stream-input")
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs url: %w", err)
	}
	q := u.Query()
	if s.ModelID != "" {
		q.Set("model_id", s.ModelID)
	}
	if s.OutputFormat != "" {
		q.Set("output_format", s.OutputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type initMessage struct {
	Text             string            `json:"text"`
	VoiceSettings    voiceSettings     `json:"voice_settings"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type serverMessage struct {
	Audio   string `json:"audio"`
	IsFinal *bool  `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Dial connects for settings.VoiceID and sends the connection-scoped voice
// configuration before returning. Call Start to receive audio.
func (d *Dialer) Dial(ctx context.Context, s Settings) (*Link, error) {
	if d.apiKey == "" || strings.TrimSpace(s.VoiceID) == "" {
		return nil, errorsx.New(errorsx.ReasonConfigMissing, "elevenlabs api key or voice id is not configured")
	}
	target, err := d.streamURL(s)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("xi-api-key", d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("elevenlabs handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	link := &Link{
		conn:   conn,
		done:   make(chan struct{}),
		logger: d.logger.With().Str("connect_id", connectID).Logger(),
	}

	first := initMessage{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       s.Stability,
			SimilarityBoost: s.SimilarityBoost,
			Style:           s.Style,
			UseSpeakerBoost: s.SpeakerBoost,
		},
	}
	if len(s.ChunkSchedule) > 0 {
		first.GenerationConfig = &generationConfig{ChunkLengthSchedule: s.ChunkSchedule}
	}
	if err := link.writeJSON(first); err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(fmt.Errorf("send voice settings: %w", err), errorsx.ReasonTTSConnect)
	}

	link.logger.Debug().Str("voice_id", s.VoiceID).Msg("speech link open")
	return link, nil
}

// Link is one open ElevenLabs stream-input connection.
type Link struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
	logger    zerolog.Logger
}

// Start begins delivering synthesis output to cb. Call it once.
func (l *Link) Start(cb Callbacks) {
	go l.readLoop(cb)
}

// SendSpan streams text for synthesis. It does not wait for audio.
func (l *Link) SendSpan(span relaymodel.TranscriptSpan) error {
	text := span.Text
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := l.writeJSON(textMessage{Text: text, TryTriggerGeneration: true}); err != nil {
		return errorsx.Wrap(fmt.Errorf("send span %d: %w", span.Seq, err), errorsx.ReasonTTSSend)
	}
	return nil
}

// EndUtterance sends the empty-text sentinel so the upstream flushes its buffer.
func (l *Link) EndUtterance() error {
	if err := l.writeJSON(textMessage{Text: ""}); err != nil {
		return errorsx.Wrap(fmt.Errorf("send end of utterance: %w", err), errorsx.ReasonTTSSend)
	}
	return nil
}

// Close closes the connection. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

// Done is closed after the read loop started by Start exits.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) writeJSON(payload any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closing.Load() {
		return errors.New("speech link closed")
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteJSON(payload)
}

func (l *Link) readLoop(cb Callbacks) {
	defer close(l.done)

	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			if cb.OnClose != nil {
				cb.OnClose(l.closeReason(err))
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			if len(data) > 0 && cb.OnChunk != nil {
				cb.OnChunk(relaymodel.AudioChunk{Data: data, Source: relaymodel.SourceTTS})
			}
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn().Err(err).Msg("dropping malformed speech message")
			continue
		}
		if msg.Error != "" {
			l.logger.Warn().Str("error", msg.Error).Str("message", msg.Message).Msg("speech upstream reported error")
			continue
		}

		if msg.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				l.logger.Warn().Err(err).Msg("dropping undecodable audio chunk")
			} else if len(audio) > 0 && cb.OnChunk != nil {
				cb.OnChunk(relaymodel.AudioChunk{Data: audio, Source: relaymodel.SourceTTS})
			}
		}
		if msg.IsFinal != nil && *msg.IsFinal && cb.OnFinal != nil {
			cb.OnFinal()
		}
	}
}

func (l *Link) closeReason(err error) error {
	if l.closing.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return errorsx.Wrap(fmt.Errorf("read speech upstream: %w", err), errorsx.ReasonTTSSocket)
}

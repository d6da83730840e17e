package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
	"github.com/zhouzirui/voice-relay/backend/internal/service/credential"
)

const writeTimeout = 5 * time.Second

// Callbacks receive upstream activity. They are invoked from the link's read
// goroutine in arrival order.
type Callbacks struct {
	OnEvent func(Event)
	// OnClose fires once when the read loop ends. err is nil only after a
	// local Close.
	OnClose func(err error)
}

// Dialer opens Conversation Links to the realtime service.
type Dialer struct {
	endpoint string
	model    string
	dialer   *websocket.Dialer
	logger   zerolog.Logger
}

// NewDialer 根据 OpenAI 配置创建实时连接拨号器。
func NewDialer(cfg config.OpenAIConfig, logger zerolog.Logger) *Dialer {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dialer{
		endpoint: cfg.RealtimeURL,
		model:    cfg.Model,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: logger.With().Str("link", "conversation").Logger(),
	}
}

func (d *Dialer) url() (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" && d.model != "" {
		q.Set("model", d.model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects with cred and sends the session.update for settings. Upstream
// events are buffered by the socket until Start is called.
func (d *Dialer) Dial(ctx context.Context, cred *credential.Credential, settings SessionSettings) (*Link, error) {
	if cred == nil || strings.TrimSpace(cred.Value) == "" {
		return nil, errorsx.New(errorsx.ReasonAIConnect, "missing realtime credential")
	}
	target, err := d.url()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonAIConnect)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Value)

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("realtime handshake failed with status %d: %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("realtime handshake failed: %w", err)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonAIConnect)
	}

	link := &Link{
		conn:   conn,
		done:   make(chan struct{}),
		logger: d.logger,
	}

	update, err := BuildSessionUpdate(settings)
	if err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(fmt.Errorf("encode session.update: %w", err), errorsx.ReasonAIConnect)
	}
	if err := link.Send(update); err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(fmt.Errorf("send session.update: %w", err), errorsx.ReasonAIConnect)
	}

	d.logger.Debug().Str("url", target).Msg("conversation link open")
	return link, nil
}

// Link is one open connection to the realtime service.
type Link struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
	logger    zerolog.Logger
}

// Start begins delivering upstream events to cb. Call it once.
func (l *Link) Start(cb Callbacks) {
	go l.readLoop(cb)
}

// Send writes one text frame upstream.
func (l *Link) Send(raw []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closing.Load() {
		return errorsx.New(errorsx.ReasonAISocket, "conversation link closed")
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errorsx.Wrap(fmt.Errorf("write upstream frame: %w", err), errorsx.ReasonAISocket)
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
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := Classify(data)
		if err != nil {
			l.logger.Warn().Err(err).Msg("dropping malformed upstream event")
			continue
		}
		if cb.OnEvent != nil {
			cb.OnEvent(ev)
		}
	}
}

func (l *Link) closeReason(err error) error {
	if l.closing.Load() {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		return errorsx.New(errorsx.ReasonAISocket, "conversation service closed the connection")
	}
	return errorsx.Wrap(fmt.Errorf("read upstream: %w", err), errorsx.ReasonAISocket)
}

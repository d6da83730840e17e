package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	relaysvc "github.com/zhouzirui/voice-relay/backend/internal/service/relay"
)

const (
	readTimeout    = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Handler 处理 /ws 语音中继连接。
type Handler struct {
	svc      *relaysvc.Service
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New 创建中继 WebSocket 处理器
func New(svc *relaysvc.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	client := &wsClient{conn: conn}
	defer client.close()

	session := h.svc.Open(r.Context(), client)
	logger := h.logger.With().Str("session_id", session.ID()).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(client, session.Done())
	go func() {
		// 会话因上游故障结束时主动断开客户端，解除下面的阻塞读。
		<-session.Done()
		client.close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read error")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.TextMessage {
			logger.Debug().Int("message_type", msgType).Msg("dropping non-text frame")
			continue
		}
		if !session.Deliver(data) {
			break
		}
	}

	session.Disconnect("client disconnected")
	<-session.Done()
	logger.Info().Msg("client disconnected")
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

// wsClient adapts a websocket connection to relaysvc.ClientSink.
type wsClient struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *wsClient) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteText(raw)
}

func (c *wsClient) WriteText(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsClient) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

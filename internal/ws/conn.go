package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/auth"
	"chatbull/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options 控制连接的心跳与缓冲；PongWait 内收不到任何帧的连接按断线处理。
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
	SendBuffer   int
}

func (o *Options) defaults() {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait / 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20 // 1MB
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// Client 是一条 WebSocket 连接，实现 hub.Peer。
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	opts   Options
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newClient(conn *websocket.Conn, userID string, opts Options) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
	}
}

func (c *Client) ID() string { return c.id }

// Send 不阻塞：写缓冲已满说明对端消费过慢，直接关闭连接，由读循环完成断线清理。
func (c *Client) Send(f hub.Frame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("type", f.Type).Msg("encode frame")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("conn_id", c.id).Str("user_id", c.userID).Msg("send buffer full, closing slow connection")
		c.Close()
		return false
	}
}

// Close 通知写循环发送关闭帧并断开底层连接，读循环随之退出；可重复调用。
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Serve 认证后升级连接，并在当前 goroutine 中串行处理该连接上的全部事件。
func Serve(h *hub.Hub, v *auth.Verifier, ns hub.Namespace, t *Tracker, opts Options) gin.HandlerFunc {
	opts.defaults()
	return func(c *gin.Context) {
		userID, err := v.Verify(c.Request.Context(), auth.BearerToken(c.Request))
		if err != nil {
			c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.From(err).Message})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade")
			return
		}
		client := newClient(conn, userID, opts)
		if !t.add(client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(opts.WriteWait))
			_ = conn.Close()
			return
		}
		defer t.remove(client)

		s := h.Connect(client, ns, userID)
		log.Debug().Str("conn_id", client.id).Str("user_id", userID).Str("namespace", ns.String()).Msg("websocket connected")
		go client.writePump()
		client.readPump(h, s)
	}
}

func (c *Client) readPump(h *hub.Hub, s *hub.Session) {
	defer func() {
		c.Close()
		h.Disconnect(context.Background(), s)
		log.Debug().Str("conn_id", c.id).Str("user_id", c.userID).Msg("websocket disconnected")
	}()
	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		h.Handle(context.Background(), s, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.Close()
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

package relay

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rosterchat/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

// conn wraps one websocket connection. username and seq belong to the hub
// goroutine.
type conn struct {
	id      string
	hub     *Hub
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	metrics *Metrics
	logger  zerolog.Logger

	username string
	seq      uint64
}

func newConn(hub *Hub, ws *websocket.Conn, limiter *rate.Limiter, metrics *Metrics, logger zerolog.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:      id,
		hub:     hub,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		limiter: limiter,
		metrics: metrics,
		logger:  logger.With().Str("conn_id", id).Logger(),
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.enqueue(c.hub.unregister, c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handle(payload)
	}
}

// handle routes one inbound frame. Anything the relay cannot use is counted
// and dropped; the connection stays open.
func (c *conn) handle(payload []byte) {
	frame, err := protocol.Decode(string(payload))
	if err != nil {
		c.drop(err, "undecodable frame")
		return
	}
	switch frame.Type {
	case protocol.TypeRegister:
		if *frame.Data == "" {
			c.drop(errors.New("empty username"), "invalid register")
			return
		}
		c.hub.submitRegister(c, *frame.Data)
	case protocol.TypeMessage:
		if _, err := frame.Payload(); err != nil {
			c.drop(err, "invalid message payload")
			return
		}
		if !c.limiter.Allow() {
			c.drop(nil, "rate limit exceeded")
			return
		}
		c.hub.submitMessage(c, payload)
	default:
		c.drop(nil, "clients may not send "+string(frame.Type)+" frames")
	}
}

func (c *conn) drop(err error, reason string) {
	c.metrics.IncDropped()
	event := c.logger.Debug()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(reason)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

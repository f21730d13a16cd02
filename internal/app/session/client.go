/*
This file defines the websocket Client for a session: the read/write pumps,
the inbound frame dispatch, and the forwarding of view models downstream.

One connection carries one session. Upstream frames are selection changes,
presence heartbeats, sends, and logout; downstream frames are full view models
plus per-call acknowledgements and errors.
*/
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kwite/internal/app/chat"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
)

const (
	// timeout for writing to the websocket connection.
	writeWait = 10 * time.Second

	// maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// frequency of server ping messages.
	pingPeriod = (pongWait * 9) / 10

	// maximum size in bytes of an inbound frame.
	maxFrameSize = 16384
)

// FrameType identifies a websocket frame on either direction of the stream.
type FrameType string

const (
	// Upstream.
	FrameSelect    FrameType = "SELECT"
	FrameHeartbeat FrameType = "HEARTBEAT"
	FrameSend      FrameType = "SEND"
	FrameLogout    FrameType = "LOGOUT"

	// Downstream.
	FrameView  FrameType = "VIEW"
	FrameAck   FrameType = "ACK"
	FrameError FrameType = "ERROR"
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

// SelectPayload requests a counterpart switch; an empty counterpart closes
// the current conversation.
type SelectPayload struct {
	Counterpart string `json:"counterpart"`
}

// HeartbeatPayload reports the owner's liveness and draft state.
type HeartbeatPayload struct {
	ComposingTo string `json:"composingTo,omitempty"`
	HasDraft    bool   `json:"hasDraft"`
}

// SendPayload appends a message to the selected conversation.
type SendPayload struct {
	Receiver string         `json:"receiver"`
	Body     string         `json:"body"`
	ReplyTo  *chat.ReplyRef `json:"replyTo,omitempty"`
}

// AckPayload confirms a send, echoing the client's temp id against the
// authoritative message id and timestamp.
type AckPayload struct {
	TempID string    `json:"tempId"`
	ID     string    `json:"id"`
	SentAt time.Time `json:"sentAt"`
}

// ErrorPayload carries a business error downstream.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client binds one websocket connection to one session Coordinator.
type Client struct {
	coord *Coordinator
	conn  *websocket.Conn

	// ctx spans the session; cancel logs the session out.
	ctx    context.Context
	cancel context.CancelFunc

	// send is the buffered downstream queue.
	send chan []byte

	logger zerolog.Logger
}

// NewClient constructs a Client and its session context.
func NewClient(coord *Coordinator, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		coord:  coord,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, 256),
		logger: logx.Logger().With().Str("component", "ws").Str("handle", coord.getSelf().FoldedHandle()).Logger(),
	}
}

// Run drives the whole session and blocks until the connection drops or the
// client logs out.
func (c *Client) Run() {
	go c.coord.Run(c.ctx)
	go c.forwardViews()
	go c.writePump()

	c.readPump()
}

// readPump reads frames until the connection closes, then tears the session
// down. Pong handling keeps the read deadline fresh.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		c.processInbound(frameBytes)
	}
}

// teardown cancels the session context and closes the connection. The
// coordinator's Run exits on the cancellation and closes the view stream.
func (c *Client) teardown() {
	c.logger.Info().Msg("Session teardown starting.")

	c.cancel()

	if err := c.conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Connection close error")
	}
}

// processInbound dispatches one upstream frame.
func (c *Client) processInbound(frameBytes []byte) {
	var frame Frame
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	switch frame.Type {
	case FrameSelect:
		var payload SelectPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn().Err(err).Msg("Client sent invalid SELECT payload")
			return
		}
		c.coord.Select(payload.Counterpart)

	case FrameHeartbeat:
		var payload HeartbeatPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn().Err(err).Msg("Client sent invalid HEARTBEAT payload")
			return
		}
		c.coord.Heartbeat(c.ctx, payload.ComposingTo, payload.HasDraft)

	case FrameSend:
		c.handleSend(frame.Payload, frame.TempID)

	case FrameLogout:
		c.logger.Info().Msg("Client requested logout.")
		c.cancel()
		if err := c.conn.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Connection close error on logout")
		}

	default:
		c.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Client sent unsupported frame type")
	}
}

// handleSend validates and forwards a send, answering with an ack or an error.
func (c *Client) handleSend(payloadBytes json.RawMessage, tempID string) {
	var payload SendPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid SEND payload")
		return
	}

	msg, cerr := c.coord.Send(c.ctx, payload.Receiver, payload.Body, payload.ReplyTo)
	if cerr != nil {
		c.sendError(cerr)
		return
	}

	c.sendAck(tempID, msg)
}

// forwardViews relays view models from the coordinator into the send queue
// and closes the queue once the session ends.
func (c *Client) forwardViews() {
	defer close(c.send)

	for view := range c.coord.Views() {
		c.queueFrame(FrameView, view, "")
	}
}

// writePump writes queued frames and periodic pings until the queue closes
// or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Connection close error in write pump")
		}
	}()

	for {
		select {
		case frameBytes, ok := <-c.send:
			if !c.writeQueued(frameBytes, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

func (c *Client) writeQueued(frameBytes []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// queueFrame marshals and enqueues a downstream frame, dropping it if the
// queue is full. View frames are safe to drop: the next one supersedes.
func (c *Client) queueFrame(frameType FrameType, payload any, tempID string) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("frame_type", string(frameType)).Msg("Error marshaling frame payload")
		return
	}

	frameBytes, err := json.Marshal(Frame{
		Type:    frameType,
		Payload: payloadBytes,
		TempID:  tempID,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("frame_type", string(frameType)).Msg("Error marshaling frame")
		return
	}

	select {
	case c.send <- frameBytes:
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping frame")
	}
}

func (c *Client) sendAck(tempID string, msg chat.Message) {
	if tempID == "" {
		return
	}

	c.queueFrame(FrameAck, AckPayload{
		TempID: tempID,
		ID:     msg.ID,
		SentAt: msg.SentAt,
	}, tempID)
}

func (c *Client) sendError(err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = fmt.Sprintf("Internal server error: %v", err)
	}

	c.queueFrame(FrameError, ErrorPayload{Code: code, Message: message}, "")
}

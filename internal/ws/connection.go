package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pigeon/internal/models"
	"pigeon/internal/presence"
)

const DefaultSendBuffer = 64

var (
	ErrBufferFull       = errors.New("connection send buffer is full")
	ErrConnectionClosed = errors.New("connection is closed")
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Connect(userID string, session presence.Session)
	Disconnect(session presence.Session)
	SendMessage(ctx context.Context, connUserID string, msg models.ClientMessage) (models.Envelope, error)
	SendChannelMessage(ctx context.Context, connUserID string, msg models.ClientMessage) (models.Envelope, error)
}

// Connection is one client socket. The read pump decodes frames and the
// main loop is the only goroutine writing to the socket.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	fromClient chan models.ClientMessage
	outbox     chan models.ServerMessage
	evicted    chan models.EvictReason
	evictOnce  sync.Once
	done       chan struct{}
	closeOnce  sync.Once
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
	sendBuffer int,
) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		fromClient: make(chan models.ClientMessage),
		outbox:     make(chan models.ServerMessage, sendBuffer),
		evicted:    make(chan models.EvictReason, 1),
		done:       make(chan struct{}),
		errorCh:    make(chan error, 2),
	}
}

// Push queues msg for delivery without blocking.
func (c *Connection) Push(msg models.ServerMessage) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbox <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// Evict asks the connection to tell the client why and close. Only the
// first reason is delivered.
func (c *Connection) Evict(reason models.EvictReason) {
	c.evictOnce.Do(func() {
		c.evicted <- reason
	})
}

// Handle registers the connection with the hub and serves it until the
// client goes away, the connection is evicted or ctx is cancelled.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Connect(c.userID, c)
	defer func() {
		c.closeOnce.Do(func() { close(c.done) })
		c.hub.Disconnect(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case msg := <-c.outbox:
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case reason := <-c.evicted:
			return c.ws.WriteJSON(models.ServerMessage{
				Type:   models.ServerMessageTypeEvicted,
				Reason: reason,
			})
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) error {
	var (
		env models.Envelope
		err error
	)
	switch msg.Type {
	case models.ClientMessageTypeSend:
		env, err = c.hub.SendMessage(ctx, c.userID, msg)
	case models.ClientMessageTypeSendChannel:
		env, err = c.hub.SendChannelMessage(ctx, c.userID, msg)
	default:
		return c.ws.WriteJSON(models.ServerMessage{
			Type: models.ServerMessageTypeSendError,
			Ref:  msg.Ref,
			Error: &models.ErrorPayload{
				Code:    models.ErrorCodeUnknownType,
				Message: fmt.Sprintf("unknown message type %q", msg.Type),
			},
		})
	}

	if err != nil {
		return c.ws.WriteJSON(models.ServerMessage{
			Type: models.ServerMessageTypeSendError,
			Ref:  msg.Ref,
			Error: &models.ErrorPayload{
				Code:    models.ErrorCodeFor(err),
				Message: err.Error(),
			},
		})
	}
	return c.ws.WriteJSON(models.ServerMessage{
		Type:    models.ServerMessageTypeSendAck,
		Ref:     msg.Ref,
		Message: &env,
	})
}

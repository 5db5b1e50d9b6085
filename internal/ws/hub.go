package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pigeon/internal/models"
	"pigeon/internal/presence"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type messageStore interface {
	CreateMessage(msg models.Message) (models.Message, error)
	GetEnvelope(id string) (models.Envelope, error)
	GetChannel(id string) (models.Channel, error)
}

// DefaultNotifyTimeout bounds a single offline notification.
const DefaultNotifyTimeout = 10 * time.Second

// Notifier reaches users who have no live connection.
type Notifier interface {
	Notify(ctx context.Context, userID string, env models.Envelope) error
}

type HubConfig struct {
	// StrictSender rejects frames whose sender differs from the identity
	// the connection registered with.
	StrictSender bool
	Notifier     Notifier
	// NotifyTimeout defaults to DefaultNotifyTimeout.
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

// outgoing is the validated shape of a send frame. Exactly one of Recipient
// and ChannelID is set.
type outgoing struct {
	Sender      string             `validate:"required,excludesall=:"`
	Recipient   string             `validate:"required_without=ChannelID,excluded_with=ChannelID,excludesall=:"`
	ChannelID   string             `validate:"required_without=Recipient"`
	MessageType models.MessageType `validate:"oneof=text file"`
	Content     string             `validate:"required_if=MessageType text"`
	FileURL     string             `validate:"required_if=MessageType file"`
}

// Hub persists chat messages and fans them out to whichever participants
// are present in the directory.
type Hub struct {
	store         messageStore
	presence      *presence.Directory
	notifier      Notifier
	notifyTimeout time.Duration
	notifications sync.WaitGroup
	strictSender  bool
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewHub(store messageStore, directory *presence.Directory, cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Hub{
		store:         store,
		presence:      directory,
		notifier:      cfg.Notifier,
		notifyTimeout: notifyTimeout,
		strictSender:  cfg.StrictSender,
		validate:      validator.New(),
		logger:        logger,
	}
}

// Connect binds userID to session. Anonymous sessions are never registered.
func (h *Hub) Connect(userID string, session presence.Session) {
	if userID == "" {
		return
	}
	h.presence.Register(userID, session)
	h.logger.Info("user connected", "user_id", userID)
}

// Disconnect removes session from the directory if it is still the one
// registered for its user.
func (h *Hub) Disconnect(session presence.Session) {
	if userID, ok := h.presence.Unregister(session); ok {
		h.logger.Info("user disconnected", "user_id", userID)
	}
}

// DisconnectUser evicts the live connection of userID, if any.
func (h *Hub) DisconnectUser(userID string) bool {
	return h.presence.Evict(userID, models.EvictReasonKicked)
}

// Online lists users with a live connection.
func (h *Hub) Online() []string {
	return h.presence.Online()
}

// SendMessage stores a direct message and pushes the stored envelope to the
// recipient and the sender. Nothing is pushed unless the message was stored.
func (h *Hub) SendMessage(ctx context.Context, connUserID string, msg models.ClientMessage) (models.Envelope, error) {
	if msg.ChannelID != "" {
		return models.Envelope{}, fmt.Errorf("%w: direct messages cannot target a channel", models.ErrValidation)
	}
	if err := h.check(connUserID, msg); err != nil {
		return models.Envelope{}, err
	}

	env, err := h.persist(msg)
	if err != nil {
		return models.Envelope{}, err
	}

	out := models.ServerMessage{Type: models.ServerMessageTypeReceive, Message: &env}
	recipientOnline := h.push(msg.Recipient, out)
	if msg.Sender != msg.Recipient {
		h.push(msg.Sender, out)
	}

	if !recipientOnline {
		h.notify(ctx, msg.Recipient, env)
	}
	return env, nil
}

// notify reaches an offline recipient in the background so a slow push
// service never holds up the sender. The notification outlives ctx but is
// bounded by the hub's notify timeout.
func (h *Hub) notify(ctx context.Context, userID string, env models.Envelope) {
	if h.notifier == nil {
		return
	}
	h.notifications.Go(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.notifyTimeout)
		defer cancel()
		if err := h.notifier.Notify(ctx, userID, env); err != nil {
			h.logger.Warn("offline notification failed", "user_id", userID, "message_id", env.ID, "error", err)
		}
	})
}

// Wait blocks until notifications already started have finished.
func (h *Hub) Wait() {
	h.notifications.Wait()
}

// SendChannelMessage stores a message posted to a channel and pushes it once
// to every present member. The sender must belong to the channel.
func (h *Hub) SendChannelMessage(ctx context.Context, connUserID string, msg models.ClientMessage) (models.Envelope, error) {
	if msg.ChannelID == "" {
		return models.Envelope{}, fmt.Errorf("%w: channelId is required", models.ErrValidation)
	}
	if err := h.check(connUserID, msg); err != nil {
		return models.Envelope{}, err
	}

	channel, err := h.store.GetChannel(msg.ChannelID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Envelope{}, fmt.Errorf("%w: unknown channel %s", models.ErrValidation, msg.ChannelID)
		}
		return models.Envelope{}, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	if !channel.HasMember(msg.Sender) {
		return models.Envelope{}, fmt.Errorf("%w: %s is not a member of %s", models.ErrForbidden, msg.Sender, channel.Name)
	}

	env, err := h.persist(msg)
	if err != nil {
		return models.Envelope{}, err
	}

	out := models.ServerMessage{Type: models.ServerMessageTypeReceiveChannel, Message: &env}
	for _, member := range lo.Uniq(append([]string{channel.Admin}, channel.Members...)) {
		h.push(member, out)
	}
	return env, nil
}

func (h *Hub) check(connUserID string, msg models.ClientMessage) error {
	err := h.validate.Struct(outgoing{
		Sender:      msg.Sender,
		Recipient:   msg.Recipient,
		ChannelID:   msg.ChannelID,
		MessageType: msg.MessageType,
		Content:     strings.TrimSpace(msg.Content),
		FileURL:     msg.FileURL,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrValidation, describe(err))
	}
	if h.strictSender && msg.Sender != connUserID {
		return fmt.Errorf("%w: sender %s, connection %s", models.ErrSenderMismatch, msg.Sender, connUserID)
	}
	return nil
}

// persist stores msg once and reads it back with its participants expanded.
func (h *Hub) persist(msg models.ClientMessage) (models.Envelope, error) {
	stored, err := h.store.CreateMessage(models.Message{
		Sender:      msg.Sender,
		Recipient:   msg.Recipient,
		ChannelID:   msg.ChannelID,
		Content:     msg.Content,
		FileURL:     msg.FileURL,
		MessageType: msg.MessageType,
	})
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return models.Envelope{}, err
		}
		return models.Envelope{}, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	env, err := h.store.GetEnvelope(stored.ID)
	if err != nil {
		h.logger.Error("stored message could not be read back", "message_id", stored.ID, "error", err)
		return models.Envelope{}, fmt.Errorf("%w: read back %s: %w", models.ErrPersistence, stored.ID, err)
	}
	return env, nil
}

// push hands msg to the session of userID and reports whether one was found.
func (h *Hub) push(userID string, msg models.ServerMessage) bool {
	session, ok := h.presence.Lookup(userID)
	if !ok {
		return false
	}
	if err := session.Push(msg); err != nil {
		h.logger.Warn("push failed", "user_id", userID, "type", msg.Type, "error", err)
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag())
	})
	return strings.Join(fields, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

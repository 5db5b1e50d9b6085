package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pigeon/internal/models"
	"pigeon/internal/presence"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]models.PublicUser
	channels  map[string]models.Channel
	messages  []models.Message
	createErr error
	readErr   error
}

func newFakeStore(userIDs ...string) *fakeStore {
	s := &fakeStore{
		users:    make(map[string]models.PublicUser),
		channels: make(map[string]models.Channel),
	}
	for _, id := range userIDs {
		s.users[id] = models.PublicUser{ID: id, Email: id + "@example.com", FirstName: id}
	}
	return s
}

func (s *fakeStore) CreateMessage(msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return models.Message{}, s.createErr
	}
	msg.ID = fmt.Sprintf("m%d", len(s.messages)+1)
	msg.Seq = int64(len(s.messages) + 1)
	msg.Timestamp = 1700000000000 + msg.Seq
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeStore) GetEnvelope(id string) (models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return models.Envelope{}, s.readErr
	}
	for _, m := range s.messages {
		if m.ID != id {
			continue
		}
		env := models.Envelope{
			ID:          m.ID,
			Seq:         m.Seq,
			Sender:      s.project(m.Sender),
			ChannelID:   m.ChannelID,
			Content:     m.Content,
			FileURL:     m.FileURL,
			MessageType: m.MessageType,
			Timestamp:   m.Timestamp,
		}
		if m.Recipient != "" {
			recipient := s.project(m.Recipient)
			env.Recipient = &recipient
		}
		return env, nil
	}
	return models.Envelope{}, models.ErrNotFound
}

func (s *fakeStore) project(id string) models.PublicUser {
	if u, ok := s.users[id]; ok {
		return u
	}
	return models.PublicUser{ID: id}
}

func (s *fakeStore) GetChannel(id string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return models.Channel{}, models.ErrNotFound
	}
	return ch, nil
}

func (s *fakeStore) persisted() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

type fakeSession struct {
	mu        sync.Mutex
	pushes    []models.ServerMessage
	evictions []models.EvictReason
	pushErr   error
}

func (f *fakeSession) Push(msg models.ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, msg)
	return f.pushErr
}

func (f *fakeSession) Evict(reason models.EvictReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictions = append(f.evictions, reason)
}

func (f *fakeSession) received() []models.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ServerMessage(nil), f.pushes...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   []string
	ctxErrs []error
	err     error
	// block makes Notify wait for its context to end, like a push service
	// that never answers.
	block bool
}

func (n *fakeNotifier) Notify(ctx context.Context, userID string, _ models.Envelope) error {
	if n.block {
		<-ctx.Done()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return n.err
}

func (n *fakeNotifier) notified() ([]string, []error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...), append([]error(nil), n.ctxErrs...)
}

func textMessage(sender, recipient, content string) models.ClientMessage {
	return models.ClientMessage{
		Type:        models.ClientMessageTypeSend,
		Sender:      sender,
		Recipient:   recipient,
		Content:     content,
		MessageType: models.MessageTypeText,
	}
}

func newTestHub(store *fakeStore, cfg HubConfig) (*Hub, *presence.Directory) {
	dir := presence.New()
	return NewHub(store, dir, cfg), dir
}

func TestHub_BothOnline(t *testing.T) {
	store := newFakeStore("u1", "u2")
	hub, _ := newTestHub(store, HubConfig{})
	a, b := &fakeSession{}, &fakeSession{}
	hub.Connect("u1", a)
	hub.Connect("u2", b)

	env, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.NoError(t, err)

	persisted := store.persisted()
	require.Len(t, persisted, 1)
	require.Equal(t, "u1", persisted[0].Sender)
	require.Equal(t, "u2", persisted[0].Recipient)
	require.Equal(t, "hi", persisted[0].Content)
	require.Equal(t, models.MessageTypeText, persisted[0].MessageType)
	require.NotEmpty(t, persisted[0].ID)
	require.NotZero(t, persisted[0].Timestamp)

	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	for _, got := range [][]models.ServerMessage{a.received(), b.received()} {
		require.Equal(t, models.ServerMessageTypeReceive, got[0].Type)
		require.Equal(t, env, *got[0].Message)
		require.Equal(t, "u1@example.com", got[0].Message.Sender.Email)
		require.Equal(t, "u2@example.com", got[0].Message.Recipient.Email)
	}
}

func TestHub_RecipientOffline(t *testing.T) {
	store := newFakeStore("u1")
	notifier := &fakeNotifier{}
	hub, dir := newTestHub(store, HubConfig{Notifier: notifier})
	a := &fakeSession{}
	hub.Connect("u1", a)

	_, ok := dir.Lookup("u3")
	require.False(t, ok)

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u3", "anyone?"))
	require.NoError(t, err)

	require.Len(t, store.persisted(), 1)
	require.Len(t, a.received(), 1)
	hub.Wait()
	calls, _ := notifier.notified()
	require.Equal(t, []string{"u3"}, calls)

	_, ok = dir.Lookup("u3")
	require.False(t, ok)
}

func TestHub_NotifierFailureIsNotFatal(t *testing.T) {
	store := newFakeStore("u1", "u2")
	notifier := &fakeNotifier{err: errors.New("push service down")}
	hub, _ := newTestHub(store, HubConfig{Notifier: notifier})

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.NoError(t, err)
	require.Len(t, store.persisted(), 1)
	hub.Wait()
	calls, _ := notifier.notified()
	require.Equal(t, []string{"u2"}, calls)
}

func TestHub_SlowNotifierDoesNotBlockSender(t *testing.T) {
	store := newFakeStore("u1", "u2")
	notifier := &fakeNotifier{block: true}
	hub, _ := newTestHub(store, HubConfig{Notifier: notifier, NotifyTimeout: 50 * time.Millisecond})
	a := &fakeSession{}
	hub.Connect("u1", a)

	done := make(chan error, 1)
	go func() {
		_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage waited on the offline notification")
	}
	require.Len(t, a.received(), 1)

	hub.Wait()
	calls, ctxErrs := notifier.notified()
	require.Equal(t, []string{"u2"}, calls)
	require.ErrorIs(t, ctxErrs[0], context.DeadlineExceeded)
}

func TestHub_NotificationOutlivesSenderContext(t *testing.T) {
	store := newFakeStore("u1", "u2")
	notifier := &fakeNotifier{}
	hub, _ := newTestHub(store, HubConfig{Notifier: notifier})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hub.SendMessage(ctx, "u1", textMessage("u1", "u2", "hi"))
	require.NoError(t, err)

	hub.Wait()
	calls, ctxErrs := notifier.notified()
	require.Equal(t, []string{"u2"}, calls)
	require.NoError(t, ctxErrs[0])
}

func TestHub_OnlineRecipientIsNotNotified(t *testing.T) {
	store := newFakeStore("u1", "u2")
	notifier := &fakeNotifier{}
	hub, _ := newTestHub(store, HubConfig{Notifier: notifier})
	hub.Connect("u2", &fakeSession{})

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.NoError(t, err)
	hub.Wait()
	calls, _ := notifier.notified()
	require.Empty(t, calls)
}

func TestHub_PersistenceFailure(t *testing.T) {
	store := newFakeStore("u1", "u2")
	store.createErr = errors.New("disk full")
	hub, _ := newTestHub(store, HubConfig{})
	a, b := &fakeSession{}, &fakeSession{}
	hub.Connect("u1", a)
	hub.Connect("u2", b)

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.ErrorIs(t, err, models.ErrPersistence)
	require.Equal(t, models.ErrorCodePersistence, models.ErrorCodeFor(err))
	require.Empty(t, a.received())
	require.Empty(t, b.received())
}

func TestHub_ReadBackFailure(t *testing.T) {
	store := newFakeStore("u1", "u2")
	store.readErr = errors.New("corrupt record")
	hub, _ := newTestHub(store, HubConfig{})
	a := &fakeSession{}
	hub.Connect("u1", a)

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.ErrorIs(t, err, models.ErrPersistence)
	require.Len(t, store.persisted(), 1)
	require.Empty(t, a.received())
}

func TestHub_Validation(t *testing.T) {
	tests := []struct {
		name string
		msg  models.ClientMessage
	}{
		{"missing sender", textMessage("", "u2", "hi")},
		{"missing recipient", textMessage("u1", "", "hi")},
		{"blank text", textMessage("u1", "u2", "   ")},
		{"unknown type", models.ClientMessage{Sender: "u1", Recipient: "u2", Content: "hi", MessageType: "sticker"}},
		{"file without url", models.ClientMessage{Sender: "u1", Recipient: "u2", MessageType: models.MessageTypeFile}},
		{"separator in sender", textMessage("a:b", "c", "hi")},
		{"separator in recipient", textMessage("a", "b:c", "hi")},
		{"direct to channel", models.ClientMessage{Sender: "u1", Recipient: "u2", ChannelID: "c1", Content: "hi", MessageType: models.MessageTypeText}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("u1", "u2")
			hub, _ := newTestHub(store, HubConfig{})
			a := &fakeSession{}
			hub.Connect("u1", a)

			_, err := hub.SendMessage(context.Background(), "u1", tt.msg)
			require.ErrorIs(t, err, models.ErrValidation)
			require.Empty(t, store.persisted())
			require.Empty(t, a.received())
		})
	}
}

func TestHub_FileMessage(t *testing.T) {
	store := newFakeStore("u1", "u2")
	hub, _ := newTestHub(store, HubConfig{})

	env, err := hub.SendMessage(context.Background(), "u1", models.ClientMessage{
		Sender:      "u1",
		Recipient:   "u2",
		FileURL:     "/uploads/abc",
		MessageType: models.MessageTypeFile,
	})
	require.NoError(t, err)
	require.Equal(t, "/uploads/abc", env.FileURL)
}

func TestHub_SenderTrust(t *testing.T) {
	t.Run("permissive by default", func(t *testing.T) {
		store := newFakeStore("u1", "u2")
		hub, _ := newTestHub(store, HubConfig{})

		_, err := hub.SendMessage(context.Background(), "u2", textMessage("u1", "u2", "hi"))
		require.NoError(t, err)
		require.Len(t, store.persisted(), 1)
	})

	t.Run("strict", func(t *testing.T) {
		store := newFakeStore("u1", "u2")
		hub, _ := newTestHub(store, HubConfig{StrictSender: true})
		b := &fakeSession{}
		hub.Connect("u2", b)

		_, err := hub.SendMessage(context.Background(), "u2", textMessage("u1", "u2", "hi"))
		require.ErrorIs(t, err, models.ErrSenderMismatch)
		require.Empty(t, store.persisted())
		require.Empty(t, b.received())

		_, err = hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
		require.NoError(t, err)
	})
}

func TestHub_SelfMessagePushedOnce(t *testing.T) {
	store := newFakeStore("u1")
	hub, _ := newTestHub(store, HubConfig{})
	a := &fakeSession{}
	hub.Connect("u1", a)

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u1", "note to self"))
	require.NoError(t, err)
	require.Len(t, a.received(), 1)
}

func TestHub_PushFailureDoesNotFailSend(t *testing.T) {
	store := newFakeStore("u1", "u2")
	hub, _ := newTestHub(store, HubConfig{})
	a := &fakeSession{}
	b := &fakeSession{pushErr: ErrBufferFull}
	hub.Connect("u1", a)
	hub.Connect("u2", b)

	_, err := hub.SendMessage(context.Background(), "u1", textMessage("u1", "u2", "hi"))
	require.NoError(t, err)
	require.Len(t, a.received(), 1)
}

func TestHub_Reconnect(t *testing.T) {
	store := newFakeStore("u1", "u2")
	hub, dir := newTestHub(store, HubConfig{})
	oldRef, newRef := &fakeSession{}, &fakeSession{}

	hub.Connect("u1", oldRef)
	hub.Disconnect(oldRef)
	hub.Connect("u1", newRef)

	got, ok := dir.Lookup("u1")
	require.True(t, ok)
	require.Same(t, newRef, got)

	// The stale handle closing again must not remove the new entry.
	hub.Disconnect(oldRef)
	got, ok = dir.Lookup("u1")
	require.True(t, ok)
	require.Same(t, newRef, got)

	_, err := hub.SendMessage(context.Background(), "u2", textMessage("u2", "u1", "welcome back"))
	require.NoError(t, err)
	require.Empty(t, oldRef.received())
	require.Len(t, newRef.received(), 1)
}

func TestHub_SupersededConnectionIsEvicted(t *testing.T) {
	hub, dir := newTestHub(newFakeStore("u1"), HubConfig{})
	first, second := &fakeSession{}, &fakeSession{}

	hub.Connect("u1", first)
	hub.Connect("u1", second)

	require.Equal(t, []models.EvictReason{models.EvictReasonSuperseded}, first.evictions)
	require.Empty(t, second.evictions)

	hub.Disconnect(first)
	got, ok := dir.Lookup("u1")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestHub_AnonymousConnection(t *testing.T) {
	hub, dir := newTestHub(newFakeStore(), HubConfig{})
	s := &fakeSession{}

	hub.Connect("", s)
	require.Equal(t, 0, dir.Len())
	hub.Disconnect(s)
	require.Equal(t, 0, dir.Len())
}

func TestHub_DisconnectUser(t *testing.T) {
	hub, _ := newTestHub(newFakeStore("u1"), HubConfig{})
	s := &fakeSession{}
	hub.Connect("u1", s)

	require.Equal(t, []string{"u1"}, hub.Online())
	require.True(t, hub.DisconnectUser("u1"))
	require.Equal(t, []models.EvictReason{models.EvictReasonKicked}, s.evictions)
	require.Empty(t, hub.Online())
	require.False(t, hub.DisconnectUser("u1"))
}

func TestHub_ChannelMessage(t *testing.T) {
	store := newFakeStore("admin", "m1", "m2", "outsider")
	store.channels["c1"] = models.Channel{ID: "c1", Name: "general", Admin: "admin", Members: []string{"m1", "m2", "admin"}}
	hub, _ := newTestHub(store, HubConfig{})

	admin, m1, outsider := &fakeSession{}, &fakeSession{}, &fakeSession{}
	hub.Connect("admin", admin)
	hub.Connect("m1", m1)
	hub.Connect("outsider", outsider)

	msg := models.ClientMessage{
		Type:        models.ClientMessageTypeSendChannel,
		Sender:      "m1",
		ChannelID:   "c1",
		Content:     "hello all",
		MessageType: models.MessageTypeText,
	}
	env, err := hub.SendChannelMessage(context.Background(), "m1", msg)
	require.NoError(t, err)
	require.Equal(t, "c1", env.ChannelID)
	require.Nil(t, env.Recipient)

	// Admin listed twice still receives one copy; m2 is offline.
	require.Len(t, admin.received(), 1)
	require.Len(t, m1.received(), 1)
	require.Empty(t, outsider.received())
	require.Equal(t, models.ServerMessageTypeReceiveChannel, admin.received()[0].Type)

	t.Run("non-member", func(t *testing.T) {
		msg.Sender = "outsider"
		_, err := hub.SendChannelMessage(context.Background(), "outsider", msg)
		require.ErrorIs(t, err, models.ErrForbidden)
		require.Len(t, store.persisted(), 1)
	})

	t.Run("unknown channel", func(t *testing.T) {
		msg.Sender = "m1"
		msg.ChannelID = "nope"
		_, err := hub.SendChannelMessage(context.Background(), "m1", msg)
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("missing channel id", func(t *testing.T) {
		msg.ChannelID = ""
		_, err := hub.SendChannelMessage(context.Background(), "m1", msg)
		require.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestHub_ConcurrentSenders(t *testing.T) {
	users := []string{"u1", "u2", "u3", "u4"}
	store := newFakeStore(users...)
	hub, _ := newTestHub(store, HubConfig{})
	sessions := make(map[string]*fakeSession)
	for _, u := range users {
		sessions[u] = &fakeSession{}
		hub.Connect(u, sessions[u])
	}

	var wg sync.WaitGroup
	for i, u := range users {
		to := users[(i+1)%len(users)]
		wg.Go(func() {
			for range 25 {
				if _, err := hub.SendMessage(context.Background(), u, textMessage(u, to, "ping")); err != nil {
					t.Error(err)
				}
			}
		})
	}
	wg.Wait()

	require.Len(t, store.persisted(), 100)
	for _, u := range users {
		// 25 sent plus 25 received.
		require.Len(t, sessions[u].received(), 50)
	}
}

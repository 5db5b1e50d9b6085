package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pigeon/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

const (
	previewLength  = 120
	defaultTTL     = 60 * 60 * 24
	defaultTimeout = 10 * time.Second
)

type subscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (email or https URL) sent to push services.
	Subscriber string
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
	// Timeout bounds each request of the default client. Ignored when
	// HTTPClient is set.
	Timeout time.Duration
}

// Payload is the JSON document delivered to the service worker.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	SenderID string `json:"senderId"`
}

// WebPush notifies users who are offline about new direct messages.
type WebPush struct {
	cfg    Config
	store  subscriptionStore
	logger *slog.Logger
}

func NewWebPush(cfg Config, store subscriptionStore, logger *slog.Logger) *WebPush {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &WebPush{cfg: cfg, store: store, logger: logger}
}

// Notify sends env to every browser userID subscribed from. Subscriptions
// the push service reports as gone are removed.
func (p *WebPush) Notify(ctx context.Context, userID string, env models.Envelope) error {
	subs, err := p.store.ListPushSubscriptions(userID)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(PayloadFor(env))
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := p.send(ctx, body, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *WebPush) send(ctx context.Context, body []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      p.cfg.HTTPClient,
		Subscriber:      p.cfg.Subscriber,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
		TTL:             defaultTTL,
	})
	if err != nil {
		return fmt.Errorf("push to %s failed: %w", sub.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		p.logger.Info("removing expired push subscription", "endpoint", sub.Endpoint)
		return p.store.DeletePushSubscription(sub.Endpoint)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push to %s rejected with status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}

// PayloadFor summarises a message for a notification banner.
func PayloadFor(env models.Envelope) Payload {
	body := env.Content
	if env.MessageType == models.MessageTypeFile {
		body = "Sent you a file"
	}
	if runes := []rune(body); len(runes) > previewLength {
		body = string(runes[:previewLength]) + "…"
	}
	return Payload{
		Title:    env.Sender.DisplayName(),
		Body:     body,
		SenderID: env.Sender.ID,
	}
}

// GenerateKeys returns a fresh VAPID key pair for configuring the server.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

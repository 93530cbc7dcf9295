// Package push sends Web Push notifications to subscribed members.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

const ttlSeconds = 86400

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

func (c Config) Configured() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Service handles sending web push notifications.
type Service struct {
	cfg    Config
	subs   *store.PushStore
	client webpush.HTTPClient
	logger *slog.Logger
}

type Option func(*Service)

func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(s *Service) { s.client = c }
}

func NewService(cfg Config, subs *store.PushStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		subs:   subs,
		client: http.DefaultClient,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subject,
		TTL:             ttlSeconds,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// Notify sends payload to every subscription and removes the ones the push
// service reports as gone. It returns the number delivered.
func (s *Service) Notify(ctx context.Context, payload Payload) (int, error) {
	subs, err := s.subs.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		err := s.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			if err := s.subs.DeleteByEndpoint(ctx, 0, sub.Endpoint); err != nil {
				s.logger.Warn("remove expired subscription", "subscription_id", sub.ID, "error", err)
			} else {
				s.logger.Info("removed expired subscription", "subscription_id", sub.ID, "member_id", sub.MemberID)
			}
		default:
			s.logger.Warn("push failed", "subscription_id", sub.ID, "error", err)
		}
	}
	return sent, nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID, encoded
// as base64url.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}

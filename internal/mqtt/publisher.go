package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus while the broker is slow.
const eventBuffer = 256

// Client is the publishing side of a broker connection.
// *autopaho.ConnectionManager satisfies it.
type Client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and forwarding loop.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, bus: bus, logger: logger}
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := AvailabilityTopic(p.cfg.TopicPrefix)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ch := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(ch)
	Forward(ctx, cm, p.cfg.TopicPrefix, ch, p.logger)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) publishAvailability(ctx context.Context, c Client, status string) {
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   AvailabilityTopic(p.cfg.TopicPrefix),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// Forward publishes every event received on ch until ch closes or ctx
// is cancelled. Publish failures are logged and the event is skipped.
func Forward(ctx context.Context, c Client, prefix string, ch <-chan events.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg, err := Message(prefix, e)
			if err != nil {
				logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
				continue
			}
			if msg == nil {
				continue
			}
			if _, err := c.Publish(ctx, msg); err != nil {
				logger.Warn("mqtt event publish failed",
					"topic", msg.Topic, "error", err)
			} else {
				logger.Debug("mqtt event published",
					"topic", msg.Topic, "checkpoint", e.CheckpointID)
			}
		}
	}
}

// Message builds the publish packet for e. Event kinds without a topic
// yield nil.
func Message(prefix string, e events.Event) (*paho.Publish, error) {
	topic := EventTopic(prefix, e)
	if topic == "" {
		return nil, nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	}, nil
}

// EventTopic returns the topic an event is published to, or "" when
// the kind is not mirrored.
func EventTopic(prefix string, e events.Event) string {
	if e.ThreadID == "" {
		return ""
	}
	base := prefix + "/threads/" + e.ThreadID
	switch e.Kind {
	case events.KindCommit:
		return base + "/commits"
	case events.KindRunComplete:
		return base + "/runs"
	default:
		return ""
	}
}

// AvailabilityTopic returns the retained online/offline topic.
func AvailabilityTopic(prefix string) string {
	return prefix + "/availability"
}

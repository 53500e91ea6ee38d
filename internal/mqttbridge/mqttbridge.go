// Package mqttbridge forwards messages between an MQTT broker and the
// bus. Subscribed topics arrive as "mqtt:<topic>" bus events; a
// "mqtt:publish" bus event is forwarded out to the broker.
package mqttbridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/circuitry/internal/bus"
)

// Config configures a Bridge.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topics    []string
}

// Bridge is a bus.Component that mirrors MQTT traffic onto the bus.
// Its own channel namespace is "mqtt".
type Bridge struct {
	*bus.Component

	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
}

// New creates a Bridge registered under root with the given config.
// Call Start to open the broker connection.
func New(root *bus.Component, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Bridge{cfg: cfg, logger: logger}
	b.Component = bus.NewComponent("mqtt", b)
	b.Component.Register(root)
	return b
}

// Handlers declares the single handler this bridge contributes: a
// listener on "mqtt:publish" that forwards payloads out to the broker.
func (b *Bridge) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewHandler(b.handlePublish, bus.OnChannels("publish"), bus.OnTarget("mqtt")),
	}
}

// handlePublish is invoked for a "mqtt:publish" bus event. Args: [topic,
// payload].
func (b *Bridge) handlePublish(args []any, kwargs map[string]any) any {
	if len(args) < 2 || b.cm == nil {
		return nil
	}
	topic, _ := args[0].(string)
	payload, _ := args[1].([]byte)
	if topic == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		b.logger.Warn("mqttbridge: publish failed", "topic", topic, "error", err)
	}
	return nil
}

// Start connects to the broker and subscribes to the configured
// topics, forwarding every inbound message onto the bus as
// "mqtt:<topic>" via Push. ctx controls the connection's lifetime.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqttbridge: connected", "broker", b.cfg.BrokerURL)
			if len(b.cfg.Topics) == 0 {
				return
			}
			opts := make([]paho.SubscribeOptions, 0, len(b.cfg.Topics))
			for _, t := range b.cfg.Topics {
				opts = append(opts, paho.SubscribeOptions{Topic: t, QoS: 1})
			}
			subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer subCancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{Subscriptions: opts}); err != nil {
				b.logger.Warn("mqttbridge: subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqttbridge: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		b.Component.Push(bus.New("received", []any{pr.Packet.Topic, pr.Packet.Payload}, nil), pr.Packet.Topic, "mqtt")
		return true, nil
	})

	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.cm == nil {
		return nil
	}
	return b.cm.Disconnect(ctx)
}

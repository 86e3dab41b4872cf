// Package mqtt pushes fused results, alerts and recording outcomes to
// the persistence and dashboard collaborators over an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/logging"
)

// Client wraps the paho MQTT client with connect and publish helpers.
type Client struct {
	settings     conf.MQTTSettings
	client       pahomqtt.Client
	logger       *slog.Logger
	onConnChange func(connected bool)
}

// NewClient creates an MQTT client. clientID should be unique per
// capture node; the node name from the main settings works.
func NewClient(settings conf.MQTTSettings, clientID string) *Client {
	c := &Client{
		settings: settings,
		logger:   logging.ForService("mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetCleanSession(true)

	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.logger.Info("connected to MQTT broker", "broker", settings.Broker)
		c.connectionChanged(true)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", "error", err)
		c.connectionChanged(false)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// OnConnectionChange registers a callback invoked when the broker
// connection is established or lost. Register before Connect; the paho
// handlers read it without locking.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.onConnChange = fn
}

func (c *Client) connectionChanged(connected bool) {
	if c.onConnChange != nil {
		c.onConnChange(connected)
	}
}

// Connect establishes the broker connection, bounded by ctx.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.settings.Broker).
			Build()
	}
	return nil
}

// Publish sends a payload to a topic at QoS 0, bounded by ctx.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return errors.Newf("not connected to broker %s", c.settings.Broker).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	token := c.client.Publish(topic, 0, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

// Disconnect closes the broker connection, allowing in-flight messages
// a short grace period.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the broker connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// waitToken waits for a paho token, honoring context cancellation.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("operation cancelled: %w", ctx.Err())
	}
}

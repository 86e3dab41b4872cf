package mqtt

import (
	"context"
	"encoding/json"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/model"
)

// SecondaryHandler receives decoded analyzer detections.
type SecondaryHandler func(result *model.SecondaryResult)

// SubscribeSecondary subscribes to the analyzer detection topic and
// feeds decoded results to the handler. Undecodable payloads are
// logged and dropped; the analyzer is best-effort by contract.
func (c *Client) SubscribeSecondary(ctx context.Context, topic string, handler SecondaryHandler) error {
	token := c.client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var result model.SecondaryResult
		if err := json.Unmarshal(msg.Payload(), &result); err != nil {
			c.logger.Warn("dropping undecodable analyzer detection",
				"topic", msg.Topic(),
				"error", err,
			)
			return
		}
		handler(&result)
	})
	if err := waitToken(ctx, token); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	c.logger.Info("subscribed to analyzer detections", "topic", topic)
	return nil
}

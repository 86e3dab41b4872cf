package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tablecap/tablecap-go/internal/events"
)

// publishTimeout bounds a single broker publish so a stalled broker
// cannot back up the event bus workers.
const publishTimeout = 5 * time.Second

// Publisher forwards bus events to the broker. It implements
// events.Consumer, so registering it on the bus is all the wiring
// needed.
type Publisher struct {
	client *Client
	prefix string
}

// NewPublisher creates the bus-to-broker bridge. Events publish under
// "<prefix>/<topic>" with the event topic's dots turned into topic
// levels.
func NewPublisher(client *Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// Name implements events.Consumer.
func (p *Publisher) Name() string {
	return "mqtt-publisher"
}

// envelope is the wire form of a forwarded event.
type envelope struct {
	Topic   string       `json:"topic"`
	At      time.Time    `json:"at"`
	Payload events.Event `json:"payload"`
}

// ProcessEvent implements events.Consumer. Errors are returned to the
// bus, which logs and counts them; the producer side is never blocked.
func (p *Publisher) ProcessEvent(event events.Event) error {
	payload, err := json.Marshal(envelope{
		Topic:   event.Topic(),
		At:      event.Timestamp(),
		Payload: event,
	})
	if err != nil {
		return err
	}

	topic := brokerTopic(p.prefix, event.Topic())

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.client.Publish(ctx, topic, payload)
}

// brokerTopic maps a bus topic to a broker topic under the prefix,
// turning dots into topic levels.
func brokerTopic(prefix, busTopic string) string {
	return prefix + "/" + strings.ReplaceAll(busTopic, ".", "/")
}

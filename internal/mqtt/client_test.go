package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablecap/tablecap-go/internal/conf"
)

func TestConnectionChangeCallback(t *testing.T) {
	t.Parallel()

	c := NewClient(conf.MQTTSettings{Broker: "tcp://localhost:1883"}, "test-node")

	var states []bool
	c.OnConnectionChange(func(connected bool) {
		states = append(states, connected)
	})

	c.connectionChanged(true)
	c.connectionChanged(false)
	assert.Equal(t, []bool{true, false}, states)
}

func TestConnectionChangeWithoutCallback(t *testing.T) {
	t.Parallel()

	c := NewClient(conf.MQTTSettings{Broker: "tcp://localhost:1883"}, "test-node")
	assert.NotPanics(t, func() { c.connectionChanged(false) })
}

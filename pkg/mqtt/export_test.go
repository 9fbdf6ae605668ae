package mqtt

import (
	"context"

	paho "github.com/eclipse/paho.mqtt.golang"

	"airguard.dev/gateway/pkg/mq"
)

// HandleMessage runs the subscription callback for one message.
func (c *Client) HandleMessage(ctx context.Context, handler mq.Handler, msg paho.Message) {
	c.handleMessage(ctx, handler, msg)
}

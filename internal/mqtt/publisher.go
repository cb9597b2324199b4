package mqtt

import (
	"go.uber.org/zap"

	"github.com/DMartelly/amridm2mqtt/internal/metrics"
)

// Publisher is the single operation the processing loop needs from the
// broker connection.
type Publisher interface {
	// Publish sends one payload to one topic, best effort. Failures are
	// logged and swallowed, never returned to the caller.
	Publish(topic, payload string)
}

// Publish sends one reading with QoS 1 and a bounded wait. A timeout, a
// refused connection or a broker error only costs this one reading; the
// caller keeps going.
func (c *Client) Publish(topic, payload string) {
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.PublishErrors.Inc()
		zap.S().Errorf("Publish to %s timed out after %s", topic, publishTimeout)
		return
	}
	if err := token.Error(); err != nil {
		metrics.PublishErrors.Inc()
		zap.S().Errorf("Error publishing to %s: %v", topic, err)
		return
	}
	metrics.ReadingsPublished.Inc()
	zap.S().Debugf("Published %s = %s", topic, payload)
}

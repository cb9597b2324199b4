package mqtt

import (
	"errors"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DMartelly/amridm2mqtt/internal/metrics"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool {
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return !t.timeout
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}

type published struct {
	topic   string
	payload string
}

// fakeClient fails publishes to the topics listed in fail and times out on
// the topics listed in slow. Everything else succeeds.
type fakeClient struct {
	MQTT.Client
	published []published
	fail      map[string]error
	slow      map[string]bool
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) MQTT.Token {
	f.published = append(f.published, published{topic: topic, payload: payload.(string)})
	if f.slow[topic] {
		return &fakeToken{timeout: true}
	}
	if err, ok := f.fail[topic]; ok {
		return &fakeToken{err: err}
	}
	return &fakeToken{}
}

func TestPublishSuccess(t *testing.T) {
	fake := &fakeClient{}
	client := &Client{client: fake}

	before := testutil.ToFloat64(metrics.ReadingsPublished)
	client.Publish("Home/WaterMeter/TotalValue", "15686.4")

	require.Len(t, fake.published, 1)
	assert.Equal(t, "Home/WaterMeter/TotalValue", fake.published[0].topic)
	assert.Equal(t, "15686.4", fake.published[0].payload)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReadingsPublished))
}

func TestPublishFailureDoesNotStopLaterPublishes(t *testing.T) {
	fake := &fakeClient{
		fail: map[string]error{"Home/WaterMeter/NoUse": errors.New("connection refused")},
	}
	client := &Client{client: fake}

	errsBefore := testutil.ToFloat64(metrics.PublishErrors)

	assert.NotPanics(t, func() {
		client.Publish("Home/WaterMeter/NoUse", "36")
		client.Publish("Home/WaterMeter/BackFlow", "0")
	})

	// Both publishes were attempted despite the first one failing.
	require.Len(t, fake.published, 2)
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(metrics.PublishErrors))
}

func TestPublishTimeoutIsSwallowed(t *testing.T) {
	fake := &fakeClient{
		slow: map[string]bool{"Home/GasMeterTotalValue": true},
	}
	client := &Client{client: fake}

	errsBefore := testutil.ToFloat64(metrics.PublishErrors)
	assert.NotPanics(t, func() {
		client.Publish("Home/GasMeterTotalValue", "572332")
	})
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(metrics.PublishErrors))
}

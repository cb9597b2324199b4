package mqtt

import (
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/DMartelly/amridm2mqtt/internal/config"
)

const (
	clientID    = "amridm2mqtt"
	statusTopic = "Home/AMRIDM2MQTT/status"

	qosAtLeastOnce = 1

	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds, paho API
)

// statusMessage is the retained availability payload on statusTopic. The
// broker publishes the offline variant itself via the last will when the
// daemon dies without disconnecting.
type statusMessage struct {
	Status      string `json:"status"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Client wraps a paho client and provides best-effort publishing.
type Client struct {
	client MQTT.Client
}

// New connects to the configured broker. Credentials are only applied when
// both username and password are set.
func New(cfg config.Config) (*Client, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	if auth, ok := cfg.Auth(); ok {
		opts.SetUsername(auth.Username)
		opts.SetPassword(auth.Password)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	will, err := jsoniter.Marshal(statusMessage{Status: "offline"})
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(statusTopic, will, qosAtLeastOnce, true)

	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{client: client}, nil
}

// onConnect runs on every (re)connect and refreshes the retained
// availability message.
func onConnect(c MQTT.Client) {
	optionsReader := c.OptionsReader()
	zap.S().Infof("Connected to MQTT broker as %s", optionsReader.ClientID())

	payload, err := jsoniter.Marshal(statusMessage{
		Status:      "online",
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		zap.S().Warnf("Error marshalling status message: %v", err)
		return
	}
	c.Publish(statusTopic, qosAtLeastOnce, true, payload)
}

func onConnectionLost(_ MQTT.Client, err error) {
	// Auto reconnect takes over, readings in between are lost by design of
	// the fire-and-forget publish.
	zap.S().Warnf("Connection to MQTT broker lost: %v", err)
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	payload, err := jsoniter.Marshal(statusMessage{
		Status:      "offline",
		TimestampMs: time.Now().UnixMilli(),
	})
	if err == nil {
		token := c.client.Publish(statusTopic, qosAtLeastOnce, true, payload)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
}

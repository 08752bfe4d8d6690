package mqttc

import (
	"errors"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const DefaultBroker = "tcp://127.0.0.1:1883"

const publishTimeout = 5 * time.Second

var ErrNotConnected = errors.New("mqtt client not connected")

// Client wraps a paho client with the fleet's QoS and timeout defaults.
type Client struct {
	Client mqtt.Client
	log    zerolog.Logger
}

// Options configures NewClient. An empty Broker falls back to the
// MQTT_BROKER environment variable and then DefaultBroker.
type Options struct {
	ClientID  string
	Broker    string
	OnConnect mqtt.OnConnectHandler
	// Will, when set, is published retained by the broker if the client
	// drops without disconnecting.
	WillTopic   string
	WillPayload []byte
	Logger      zerolog.Logger
}

// NewClient connects to the broker. A failed initial connect is logged and
// the client keeps retrying in the background.
func NewClient(o Options) *Client {
	broker := o.Broker
	if broker == "" {
		broker = os.Getenv("MQTT_BROKER")
		if broker == "" {
			broker = DefaultBroker
		}
	}
	log := o.Logger.With().Str("component", "mqtt").Str("broker", broker).Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(o.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("connection lost")
		})
	if o.OnConnect != nil {
		opts.SetOnConnectHandler(o.OnConnect)
	}
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, o.WillPayload, 1, true)
	}

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("connect")
	}
	return &Client{Client: c, log: log}
}

func (c *Client) Connected() bool {
	return c != nil && c.Client != nil && c.Client.IsConnected()
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained publishes with the retain flag so late subscribers see
// the last value.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	token := c.Client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) error {
	if c == nil || c.Client == nil {
		return ErrNotConnected
	}
	token := c.Client.Subscribe(topic, 1, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("subscribe")
		return err
	}
	return nil
}

func (c *Client) Disconnect() {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Disconnect(250)
}

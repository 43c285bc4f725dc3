package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"smart-doorbell-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client publishes doorbell events to an MQTT broker
type Client struct {
	config    config.MQTTConfig
	client    mqtt.Client
	mutex     sync.RWMutex
	onConnect []func()
}

// NewClient creates a client; Start connects it
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// AvailabilityTopic carries the online/offline state of the doorbell
func (c *Client) AvailabilityTopic() string {
	return c.config.TopicPrefix + "/status"
}

// OnConnect registers fn to run after every (re)connect
func (c *Client) OnConnect(fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Start connects to the broker. The last will marks the doorbell offline.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Last Will: Broker meldet "offline", falls die Verbindung abbricht
	opts.SetWill(c.AvailabilityTopic(), "offline", 1, true)
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	// paho verbindet sich nach Verbindungsverlust automatisch neu
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectTimeout(10 * time.Second)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop publishes the offline state and disconnects
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		if err := c.PublishRetain(c.AvailabilityTopic(), "offline"); err != nil {
			log.WithError(err).Warn("Failed to publish offline state")
		}
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	c.mutex.RLock()
	callbacks := append([]func(){}, c.onConnect...)
	c.mutex.RUnlock()

	// paho runs this on its own goroutine; publishing from here must not block it
	go func() {
		if err := c.PublishRetain(c.AvailabilityTopic(), "online"); err != nil {
			log.WithError(err).Warn("Failed to publish online state")
		}
		for _, fn := range callbacks {
			fn()
		}
	}()
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// PublishMessage publishes payload to topic. Strings and byte slices are
// sent as is, scalars formatted, everything else JSON encoded.
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	var payloadBytes []byte
	var err error

	switch p := payload.(type) {
	case string:
		payloadBytes = []byte(p)
	case []byte:
		payloadBytes = p
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		payloadBytes = []byte(fmt.Sprintf("%v", p))
	default:
		payloadBytes, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain publishes with the retain flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish publishes without the retain flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

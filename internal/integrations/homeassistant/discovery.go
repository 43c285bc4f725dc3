package homeassistant

import (
	"fmt"
	"regexp"
	"strings"

	"smart-doorbell-go/config"

	log "github.com/sirupsen/logrus"
)

// ComponentSensor is the Home Assistant component used for all entities
const ComponentSensor = "sensor"

// MessagePublisher is the MQTT client as seen by this package
type MessagePublisher interface {
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
	AvailabilityTopic() string
}

// SensorConfig is the MQTT discovery document of a sensor
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	UnitOfMeasurement   string  `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device groups the sensors in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

var nonID = regexp.MustCompile(`[^a-z0-9_]+`)

// NodeID normalises the MQTT client id for use in topics and unique ids
func NodeID(clientID string) string {
	id := nonID.ReplaceAllString(strings.ToLower(clientID), "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return "smart_doorbell"
	}
	return id
}

// DiscoveryManager announces the doorbell sensors to Home Assistant
type DiscoveryManager struct {
	pub MessagePublisher
	cfg config.MQTTConfig
}

// NewDiscoveryManager creates a manager
func NewDiscoveryManager(pub MessagePublisher, cfg config.MQTTConfig) *DiscoveryManager {
	return &DiscoveryManager{pub: pub, cfg: cfg}
}

// ResultTopic receives every classification result
func ResultTopic(cfg config.MQTTConfig) string {
	return cfg.TopicPrefix + "/result"
}

// Sensors returns the discovery topic and document of every sensor
func (dm *DiscoveryManager) Sensors() map[string]SensorConfig {
	node := NodeID(dm.cfg.ClientID)
	device := &Device{
		Identifiers:  []string{node},
		Name:         "Smart Doorbell",
		Manufacturer: "Smart Doorbell",
		Model:        "Face recognition doorbell",
	}

	sensor := func(object, name, icon, template, unit string) (string, SensorConfig) {
		topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.cfg.HomeAssistant.DiscoveryPrefix, ComponentSensor, node, object)
		return topic, SensorConfig{
			Name:                name,
			UniqueID:            fmt.Sprintf("%s_%s", node, object),
			StateTopic:          ResultTopic(dm.cfg),
			JSONAttributesTopic: ResultTopic(dm.cfg),
			ValueTemplate:       template,
			UnitOfMeasurement:   unit,
			Icon:                icon,
			AvailabilityTopic:   dm.pub.AvailabilityTopic(),
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			Device:              device,
		}
	}

	out := make(map[string]SensorConfig, 2)
	topic, cfg := sensor("visitor", "Doorbell Visitor", "mdi:doorbell-video", "{{ value_json.label }}", "")
	out[topic] = cfg
	topic, cfg = sensor("confidence", "Doorbell Confidence", "mdi:face-recognition", "{{ (value_json.confidence * 100) | round(1) }}", "%")
	out[topic] = cfg
	return out
}

// Register publishes the retained discovery documents
func (dm *DiscoveryManager) Register() error {
	for topic, sensor := range dm.Sensors() {
		log.Infof("Registering Home Assistant sensor %s", sensor.UniqueID)
		if err := dm.pub.PublishRetain(topic, sensor); err != nil {
			return fmt.Errorf("failed to publish discovery configuration: %w", err)
		}
	}
	return nil
}

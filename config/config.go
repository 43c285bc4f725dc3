package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the main application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	RemoteLog   RemoteLogConfig   `mapstructure:"remote_log"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	I18n        I18nConfig        `mapstructure:"i18n"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	TemplateDir   string `mapstructure:"template_dir"`
	CaptureURL    string `mapstructure:"capture_url"`
	SessionSecret string `mapstructure:"session_secret"`
	Timezone      string `mapstructure:"timezone"`
	// MaxUploadBytes limits the raw body accepted by /upload
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds the sqlite settings for capture records
type DBConfig struct {
	File string `mapstructure:"file"`
}

// CaptureConfig describes where captured images live
type CaptureConfig struct {
	Dir     string `mapstructure:"dir"`
	TempDir string `mapstructure:"temp_dir"`
}

// RecognitionConfig holds model artifact locations and inference parameters
type RecognitionConfig struct {
	ModelsDir           string  `mapstructure:"models_dir"` // dlib model files for go-face
	ClassifierPath      string  `mapstructure:"classifier_path"`
	EmbeddingsPath      string  `mapstructure:"embeddings_path"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	UnknownLabel        string  `mapstructure:"unknown_label"`
}

// NotifyConfig configures the background notification worker pool
type NotifyConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueSize      int `mapstructure:"queue_size"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RemoteLogConfig holds the Firebase Realtime Database endpoint
type RemoteLogConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Path           string `mapstructure:"path"`
	Auth           string `mapstructure:"auth"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MQTTConfig holds the MQTT client settings
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig controls MQTT discovery for Home Assistant
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// HardwareConfig describes the OLED display and buzzer wiring
type HardwareConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	I2CBus     string `mapstructure:"i2c_bus"` // empty selects the first bus
	OLEDWidth  int    `mapstructure:"oled_width"`
	OLEDHeight int    `mapstructure:"oled_height"`
	BuzzerPin  string `mapstructure:"buzzer_pin"`
}

// CleanupConfig holds the capture retention settings
type CleanupConfig struct {
	RetentionDays      int `mapstructure:"retention_days"`
	CheckIntervalHours int `mapstructure:"check_interval_hours"`
}

// I18nConfig holds localisation settings for the web UI
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
}

// Load reads the configuration from file, environment and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment overrides, e.g. DOORBELL_REMOTE_LOG_AUTH
	v.SetEnvPrefix("DOORBELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Recognition.ConfidenceThreshold < 0 || c.Recognition.ConfidenceThreshold > 1 {
		return fmt.Errorf("recognition.confidence_threshold must be within [0,1], got %v", c.Recognition.ConfidenceThreshold)
	}
	if c.Capture.Dir == "" {
		return fmt.Errorf("capture.dir must not be empty")
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("notify.workers must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.template_dir", "./web/templates")
	v.SetDefault("server.capture_url", "/captures")
	v.SetDefault("server.session_secret", "doorbell-session")
	v.SetDefault("server.timezone", "")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	// DB
	v.SetDefault("db.file", "./data/doorbell.db")

	// Capture store
	v.SetDefault("capture.dir", "./static/received_images")
	v.SetDefault("capture.temp_dir", "./data/tmp")

	// Recognition
	v.SetDefault("recognition.models_dir", "./models/dlib")
	v.SetDefault("recognition.classifier_path", "./models/classifier.json")
	v.SetDefault("recognition.embeddings_path", "./embeddings/face_embeddings.json")
	v.SetDefault("recognition.confidence_threshold", 0.5)
	v.SetDefault("recognition.unknown_label", "unknown")

	// Notification pool
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.queue_size", 32)
	v.SetDefault("notify.timeout_seconds", 30)

	// Remote log
	v.SetDefault("remote_log.enabled", false)
	v.SetDefault("remote_log.host", "")
	v.SetDefault("remote_log.path", "/face_logs.json")
	v.SetDefault("remote_log.auth", "")
	v.SetDefault("remote_log.timeout_seconds", 10)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "smart-doorbell")
	v.SetDefault("mqtt.topic_prefix", "doorbell")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	// Hardware
	v.SetDefault("hardware.enabled", false)
	v.SetDefault("hardware.i2c_bus", "")
	v.SetDefault("hardware.oled_width", 128)
	v.SetDefault("hardware.oled_height", 64)
	v.SetDefault("hardware.buzzer_pin", "GPIO17")

	// Cleanup, 0 disables it
	v.SetDefault("cleanup.retention_days", 0)
	v.SetDefault("cleanup.check_interval_hours", 24)

	// I18n
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.locales_dir", "./web/locales")
}

// ensureDirectories creates every directory the server writes into
func ensureDirectories(cfg *Config) error {
	dirs := []string{cfg.Capture.Dir, cfg.Capture.TempDir}
	if cfg.DB.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.DB.File))
	}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, console
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Device      DeviceConfig     `yaml:"device"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Assistant   AssistantConfig  `yaml:"assistant"`
	Console     ConsoleConfig    `yaml:"console"`
	PubSub      PubSubConfig     `yaml:"pubsub"`
	Forwarder   ForwarderConfig  `yaml:"forwarder"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DeviceConfig identifies this assistant to the registry and to peers on the bus.
type DeviceConfig struct {
	ID                string `yaml:"id"`
	ModelID           string `yaml:"model_id"`
	ProjectID         string `yaml:"project_id"`
	RegistryEndpoint  string `yaml:"registry_endpoint"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path             string `yaml:"path"`
	RetentionMode    string `yaml:"retention_mode"`
	RetentionDays    int    `yaml:"retention_days"`
	MaxConversations int    `yaml:"max_conversations"`
	VacuumOnStart    bool   `yaml:"vacuum_on_start"`
}

type AssistantConfig struct {
	Mode            string `yaml:"mode"` // mock, exec, bus
	Command         string `yaml:"command"`
	CredentialsPath string `yaml:"credentials"`
}

type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Width   int    `yaml:"width"`
}

type PubSubConfig struct {
	Project           string `yaml:"project"`
	Topic             string `yaml:"topic"`
	Subscription      string `yaml:"subscription"`
	SubscriptionTopic string `yaml:"subscription_topic"`
	MessageCount      int    `yaml:"message_count"`
	AckWaitMS         int    `yaml:"ack_wait_ms"`
}

type ForwarderConfig struct {
	Backend string      `yaml:"backend"` // none, pubsub, mqtt, kafka
	Topic   string      `yaml:"topic"`
	MQTT    MQTTConfig  `yaml:"mqtt"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks string   `yaml:"required_acks"`
	Compression  string   `yaml:"compression"`
}

// DefaultCredentialsPath mirrors where google-oauthlib-tool writes its token file.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	return filepath.Join(home, ".config", "google-oauthlib-tool", "credentials.json")
}

func Default() Config {
	return Config{
		RuntimeName: "jarvis",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Device: DeviceConfig{
			ID:                "jarvis-1",
			RegistryEndpoint:  "https://embeddedassistant.googleapis.com/v1alpha2",
			Role:              "assistant",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:             "./data/jarvis-transcripts.db",
			RetentionMode:    "session",
			RetentionDays:    30,
			MaxConversations: 10000,
		},
		Assistant: AssistantConfig{
			Mode:            "mock",
			CredentialsPath: DefaultCredentialsPath(),
		},
		Console: ConsoleConfig{
			Enabled: true,
			Title:   "Jarvis",
			Width:   60,
		},
		PubSub: PubSubConfig{
			Project:           "ok-jarvis",
			Topic:             "rpi",
			Subscription:      "pavilion",
			SubscriptionTopic: "rpi",
			MessageCount:      9,
			AckWaitMS:         30000,
		},
		Forwarder: ForwarderConfig{
			Backend: "none",
			Topic:   "rpi",
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "jarvis",
				Topic:    "jarvis/devices",
				QoS:      1,
			},
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "jarvis.device-actions",
				RequiredAcks: "one",
				Compression:  "snappy",
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "JARVIS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "JARVIS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "JARVIS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "JARVIS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "JARVIS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "JARVIS_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "JARVIS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "JARVIS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "JARVIS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "JARVIS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "JARVIS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "JARVIS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "JARVIS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "JARVIS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "JARVIS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "JARVIS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "JARVIS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "JARVIS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Device.ID, "JARVIS_DEVICE_ID")
	overrideString(&cfg.Device.ModelID, "JARVIS_DEVICE_MODEL_ID")
	overrideString(&cfg.Device.ProjectID, "JARVIS_DEVICE_PROJECT_ID")
	overrideString(&cfg.Device.RegistryEndpoint, "JARVIS_DEVICE_REGISTRY_ENDPOINT")
	overrideString(&cfg.Device.Role, "JARVIS_DEVICE_ROLE")
	overrideInt(&cfg.Device.HeartbeatInterval, "JARVIS_DEVICE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Device.HeartbeatTimeout, "JARVIS_DEVICE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "JARVIS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "JARVIS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "JARVIS_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxConversations, "JARVIS_EVENT_STORE_MAX_CONVERSATIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "JARVIS_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Assistant.Mode, "JARVIS_ASSISTANT_MODE")
	overrideString(&cfg.Assistant.Command, "JARVIS_ASSISTANT_COMMAND")
	overrideString(&cfg.Assistant.CredentialsPath, "JARVIS_ASSISTANT_CREDENTIALS")
	overrideBool(&cfg.Console.Enabled, "JARVIS_CONSOLE_ENABLED")
	overrideString(&cfg.Console.Title, "JARVIS_CONSOLE_TITLE")
	overrideInt(&cfg.Console.Width, "JARVIS_CONSOLE_WIDTH")
	overrideString(&cfg.PubSub.Project, "JARVIS_PUBSUB_PROJECT")
	overrideString(&cfg.PubSub.Topic, "JARVIS_PUBSUB_TOPIC")
	overrideString(&cfg.PubSub.Subscription, "JARVIS_PUBSUB_SUBSCRIPTION")
	overrideString(&cfg.PubSub.SubscriptionTopic, "JARVIS_PUBSUB_SUBSCRIPTION_TOPIC")
	overrideInt(&cfg.PubSub.MessageCount, "JARVIS_PUBSUB_MESSAGE_COUNT")
	overrideInt(&cfg.PubSub.AckWaitMS, "JARVIS_PUBSUB_ACK_WAIT_MS")
	overrideString(&cfg.Forwarder.Backend, "JARVIS_FORWARDER_BACKEND")
	overrideString(&cfg.Forwarder.Topic, "JARVIS_FORWARDER_TOPIC")
	overrideString(&cfg.Forwarder.MQTT.Broker, "JARVIS_FORWARDER_MQTT_BROKER")
	overrideString(&cfg.Forwarder.MQTT.ClientID, "JARVIS_FORWARDER_MQTT_CLIENT_ID")
	overrideString(&cfg.Forwarder.MQTT.Topic, "JARVIS_FORWARDER_MQTT_TOPIC")
	overrideInt(&cfg.Forwarder.MQTT.QoS, "JARVIS_FORWARDER_MQTT_QOS")
	overrideString(&cfg.Forwarder.MQTT.Username, "JARVIS_FORWARDER_MQTT_USERNAME")
	overrideString(&cfg.Forwarder.MQTT.Password, "JARVIS_FORWARDER_MQTT_PASSWORD")
	overrideStringSlice(&cfg.Forwarder.Kafka.Brokers, "JARVIS_FORWARDER_KAFKA_BROKERS")
	overrideString(&cfg.Forwarder.Kafka.Topic, "JARVIS_FORWARDER_KAFKA_TOPIC")
	overrideString(&cfg.Forwarder.Kafka.RequiredAcks, "JARVIS_FORWARDER_KAFKA_REQUIRED_ACKS")
	overrideString(&cfg.Forwarder.Kafka.Compression, "JARVIS_FORWARDER_KAFKA_COMPRESSION")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate checks cross-field constraints. Callers that patch the config
// after Load (command-line flags) should run it again.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "console":
	default:
		return errors.New("telemetry.log_format must be one of json|console")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Device.ID == "" {
		return errors.New("device.id must not be empty")
	}
	if cfg.Device.ProjectID != "" {
		if cfg.Device.ModelID == "" {
			return errors.New("device.model_id must be set when device.project_id is set")
		}
		if cfg.Device.RegistryEndpoint == "" {
			return errors.New("device.registry_endpoint must not be empty when device.project_id is set")
		}
	}
	if cfg.Device.HeartbeatInterval <= 0 {
		return errors.New("device.heartbeat_interval_ms must be positive")
	}
	if cfg.Device.HeartbeatTimeout <= cfg.Device.HeartbeatInterval {
		return errors.New("device.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Assistant.Mode {
	case "mock", "exec", "bus":
	default:
		return errors.New("assistant.mode must be one of mock|exec|bus")
	}
	if cfg.Assistant.Mode == "exec" {
		if cfg.Assistant.Command == "" {
			return errors.New("assistant.command must be set when mode=exec")
		}
		if cfg.Assistant.CredentialsPath == "" {
			return errors.New("assistant.credentials must be set when mode=exec")
		}
	}
	if cfg.Console.Width < 10 {
		return errors.New("console.width must be >= 10")
	}
	if cfg.PubSub.Project == "" {
		return errors.New("pubsub.project must not be empty")
	}
	if cfg.PubSub.MessageCount < 0 {
		return errors.New("pubsub.message_count must be >= 0")
	}
	switch cfg.Forwarder.Backend {
	case "none":
	case "pubsub":
		if cfg.Forwarder.Topic == "" {
			return errors.New("forwarder.topic must be set when backend=pubsub")
		}
	case "mqtt":
		if cfg.Forwarder.MQTT.Broker == "" {
			return errors.New("forwarder.mqtt.broker must be set when backend=mqtt")
		}
		if cfg.Forwarder.MQTT.QoS < 0 || cfg.Forwarder.MQTT.QoS > 2 {
			return errors.New("forwarder.mqtt.qos must be 0, 1 or 2")
		}
	case "kafka":
		if len(cfg.Forwarder.Kafka.Brokers) == 0 || cfg.Forwarder.Kafka.Topic == "" {
			return errors.New("forwarder.kafka.brokers and forwarder.kafka.topic must be set when backend=kafka")
		}
	default:
		return errors.New("forwarder.backend must be one of none|pubsub|mqtt|kafka")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"drone-telemetry/mqtt"
	"drone-telemetry/simulator"
	"drone-telemetry/stream"
)

// EnvPrefix - префикс переменных окружения, например DRONE_STREAM_URL
const EnvPrefix = "DRONE"

// Config - общая конфигурация монитора и имитатора источника
type Config struct {
	Stream  stream.Config    `mapstructure:"stream"`
	Source  simulator.Config `mapstructure:"source"`
	MQTT    mqtt.Config      `mapstructure:"mqtt"`
	Monitor struct {
		StatusInterval time.Duration `mapstructure:"status_interval"` // Период строки состояния, 0 - выключено
	} `mapstructure:"monitor"`
	Logging struct {
		Level string `mapstructure:"level"` // info или debug
	} `mapstructure:"logging"`
}

// Debug возвращает true если включено подробное логирование
func (c Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}

// NewFlagSet создает набор флагов командной строки для программы name
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("config", "", "path to config file (default: ./config.yaml if present)")
	flags.String("url", "", "telemetry server WebSocket URL")
	flags.Duration("reconnect-delay", 0, "delay before reconnecting after connection loss")
	flags.String("listen", "", "telemetry source listen address")
	flags.Bool("mqtt", false, "relay updates to MQTT broker")
	flags.String("mqtt-broker", "", "MQTT broker address")
	flags.String("log-level", "", "logging level (info, debug)")
	return flags
}

// flagKeys связывает флаги с ключами конфигурации
var flagKeys = map[string]string{
	"url":             "stream.url",
	"reconnect-delay": "stream.reconnect_delay",
	"listen":          "source.listen",
	"mqtt":            "mqtt.enabled",
	"mqtt-broker":     "mqtt.broker",
	"log-level":       "logging.level",
}

// Load читает конфигурацию: значения по умолчанию, затем yaml файл,
// переменные окружения DRONE_* и явно заданные флаги
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := ""
	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("error binding flag %s: %w", name, err)
			}
		}
		path, _ = flags.GetString("config")
	}

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate проверяет значения, которые нельзя исправить молча
func (c Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.New("stream.url must not be empty")
	}
	if c.Stream.ReconnectDelay < 0 {
		return fmt.Errorf("stream.reconnect_delay must not be negative, got %s", c.Stream.ReconnectDelay)
	}
	if c.Source.LogProbability < 0 || c.Source.LogProbability > 1 {
		return fmt.Errorf("source.log_probability must be within [0, 1], got %v", c.Source.LogProbability)
	}
	if c.Source.LogIntervalMax < c.Source.LogIntervalMin {
		return fmt.Errorf("source.log_interval_max (%s) is less than log_interval_min (%s)",
			c.Source.LogIntervalMax, c.Source.LogIntervalMin)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	streamDefaults := stream.DefaultConfig()
	v.SetDefault("stream.url", streamDefaults.URL)
	v.SetDefault("stream.reconnect_delay", streamDefaults.ReconnectDelay)
	v.SetDefault("stream.history_size", streamDefaults.HistorySize)
	v.SetDefault("stream.connect_timeout", streamDefaults.ConnectTimeout)

	sourceDefaults := simulator.DefaultConfig()
	v.SetDefault("source.listen", sourceDefaults.Listen)
	v.SetDefault("source.telemetry_interval", sourceDefaults.TelemetryInterval)
	v.SetDefault("source.log_interval_min", sourceDefaults.LogIntervalMin)
	v.SetDefault("source.log_interval_max", sourceDefaults.LogIntervalMax)
	v.SetDefault("source.log_probability", sourceDefaults.LogProbability)
	v.SetDefault("source.send_queue", sourceDefaults.SendQueue)
	v.SetDefault("source.seed", sourceDefaults.Seed)

	mqttDefaults := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", mqttDefaults.Enabled)
	v.SetDefault("mqtt.broker", mqttDefaults.Broker)
	v.SetDefault("mqtt.username", mqttDefaults.Username)
	v.SetDefault("mqtt.password", mqttDefaults.Password)
	v.SetDefault("mqtt.client_id", mqttDefaults.ClientID)
	v.SetDefault("mqtt.base_topic", mqttDefaults.BaseTopic)
	v.SetDefault("mqtt.qos", mqttDefaults.QoS)
	v.SetDefault("mqtt.keep_alive", mqttDefaults.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mqttDefaults.ConnectTimeout)
	v.SetDefault("mqtt.auto_reconnect", mqttDefaults.AutoReconnect)
	v.SetDefault("mqtt.format", mqttDefaults.Format)

	v.SetDefault("monitor.status_interval", 30*time.Second)
	v.SetDefault("logging.level", "info")
}

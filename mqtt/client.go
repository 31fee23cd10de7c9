package mqtt

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"drone-telemetry/common"
	"drone-telemetry/stream"
)

// Форматы полезной нагрузки
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Config представляет конфигурацию MQTT ретранслятора
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`         // Ретрансляция включена
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (генерируется если пустой)
	BaseTopic      string        `mapstructure:"base_topic"`      // Базовый топик, например "drone"
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Интервал keep alive в секундах
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`  // Автоматическое переподключение
	Format         string        `mapstructure:"format"`          // json или msgpack
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return "drone-telemetry-" + hex.EncodeToString(bytes)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		BaseTopic:      "drone",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
		Format:         FormatJSON,
	}
}

// publisher - часть mqttLib.Client, нужная для публикации
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token
	Disconnect(quiesce uint)
}

// StatusMessage публикуется с флагом retained при смене состояния соединения
type StatusMessage struct {
	State     common.ConnectionState `json:"state"`
	Timestamp time.Time              `json:"timestamp"`
}

// Relay ретранслирует обновления клиента потока в MQTT:
// <base>/telemetry, <base>/logs и <base>/status
type Relay struct {
	config     Config
	mqttClient publisher
	newClient  func(*mqttLib.ClientOptions) mqttLib.Client
	updates    <-chan stream.Update
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *log.Logger
}

// NewRelay создает ретранслятор для канала обновлений
func NewRelay(config Config, updates <-chan stream.Update) *Relay {
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	if config.Format == "" {
		config.Format = FormatJSON
	}

	return &Relay{
		config:    config,
		newClient: mqttLib.NewClient,
		updates:   updates,
		stopChan:  make(chan struct{}),
		logger:    log.New(os.Stdout, "[MQTT-Relay] ", log.LstdFlags|log.Lshortfile),
	}
}

// Start подключается к брокеру и запускает цикл публикации
func (r *Relay) Start() error {
	if r.config.Format != FormatJSON && r.config.Format != FormatMsgpack {
		return fmt.Errorf("unsupported payload format %q", r.config.Format)
	}

	r.logger.Printf("Starting MQTT relay, broker: %s", r.config.Broker)

	opts := mqttLib.NewClientOptions()
	opts.AddBroker(r.config.Broker)
	opts.SetClientID(r.config.ClientID)
	opts.SetKeepAlive(time.Duration(r.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(r.config.ConnectTimeout)
	opts.SetAutoReconnect(r.config.AutoReconnect)

	if r.config.Username != "" && r.config.Password != "" {
		opts.SetUsername(r.config.Username)
		opts.SetPassword(r.config.Password)
		r.logger.Println("MQTT authentication: ENABLED")
	} else {
		r.logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	opts.SetOnConnectHandler(func(client mqttLib.Client) {
		r.logger.Println("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(client mqttLib.Client, err error) {
		r.logger.Printf("Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqttLib.Client, opts *mqttLib.ClientOptions) {
		r.logger.Println("Attempting to reconnect to MQTT broker...")
	})

	client := r.newClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	r.mqttClient = client

	r.run()
	r.logger.Println("MQTT relay started successfully")
	return nil
}

// run запускает цикл публикации на уже подключенном клиенте
func (r *Relay) run() {
	r.wg.Add(1)
	go r.publishLoop()
}

// Stop останавливает цикл публикации и отключается от брокера
func (r *Relay) Stop() error {
	r.logger.Println("Stopping MQTT relay...")

	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()

	if r.mqttClient != nil && r.mqttClient.IsConnected() {
		r.mqttClient.Disconnect(1000)
		r.logger.Println("MQTT client disconnected")
	}
	return nil
}

// IsConnected возвращает true если клиент подключен к брокеру
func (r *Relay) IsConnected() bool {
	return r.mqttClient != nil && r.mqttClient.IsConnected()
}

func (r *Relay) publishLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		case update, ok := <-r.updates:
			if !ok {
				r.logger.Println("Updates channel closed")
				return
			}
			if err := r.publishUpdate(update); err != nil {
				r.logger.Printf("Failed to publish %s update: %v", update.Kind, err)
			}
		}
	}
}

// publishUpdate выбирает топик и полезную нагрузку для обновления
func (r *Relay) publishUpdate(update stream.Update) error {
	switch update.Kind {
	case stream.UpdateTelemetry:
		return r.publish(r.topic("telemetry"), false, update.Snapshot)
	case stream.UpdateLog:
		return r.publish(r.topic("logs"), false, update.Entry)
	case stream.UpdateState:
		return r.publish(r.topic("status"), true, StatusMessage{
			State:     update.State,
			Timestamp: time.Now().UTC(),
		})
	}
	return fmt.Errorf("unknown update kind %d", update.Kind)
}

func (r *Relay) publish(topic string, retained bool, v interface{}) error {
	if r.mqttClient == nil || !r.mqttClient.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := r.encode(v)
	if err != nil {
		return err
	}

	token := r.mqttClient.Publish(topic, r.config.QoS, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// encode сериализует значение в выбранном формате. Для msgpack
// используются те же json теги, что и на проводе.
func (r *Relay) encode(v interface{}) ([]byte, error) {
	switch r.config.Format {
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to encode msgpack payload: %w", err)
		}
		return buf.Bytes(), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal json payload: %w", err)
		}
		return payload, nil
	}
}

func (r *Relay) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", r.config.BaseTopic, suffix)
}

package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"drone-telemetry/common"
	"drone-telemetry/stream"
)

// MockMQTTClient для тестирования
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqttLib.Token {
	args := m.Called()
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(filters, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqttLib.Token {
	args := m.Called(topics)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqttLib.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) OptionsReader() mqttLib.ClientOptionsReader {
	args := m.Called()
	return args.Get(0).(mqttLib.ClientOptionsReader)
}

// mockToken - завершенный токен с заданной ошибкой
type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func newTestRelay(config Config, updates <-chan stream.Update, client *MockMQTTClient) *Relay {
	relay := NewRelay(config, updates)
	relay.logger = log.New(io.Discard, "", 0)
	relay.newClient = func(*mqttLib.ClientOptions) mqttLib.Client { return client }
	return relay
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.False(t, config.Enabled)
	assert.NotEmpty(t, config.Broker)
	assert.Equal(t, "drone", config.BaseTopic)
	assert.LessOrEqual(t, config.QoS, byte(2))
	assert.Equal(t, FormatJSON, config.Format)
}

func TestGenerateClientID(t *testing.T) {
	id1 := generateClientID()
	id2 := generateClientID()

	assert.True(t, strings.HasPrefix(id1, "drone-telemetry-"))
	assert.Len(t, id1, len("drone-telemetry-")+8)
	assert.NotEqual(t, id1, id2)
}

func TestNewRelayFillsDefaults(t *testing.T) {
	relay := NewRelay(Config{BaseTopic: "uav"}, nil)

	assert.NotEmpty(t, relay.config.ClientID)
	assert.Equal(t, FormatJSON, relay.config.Format)
	assert.Equal(t, "uav/telemetry", relay.topic("telemetry"))
	assert.False(t, relay.IsConnected())
}

func TestStartRejectsUnknownFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "xml"
	client := new(MockMQTTClient)
	relay := newTestRelay(config, nil, client)

	err := relay.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
	client.AssertNotCalled(t, "Connect")
}

func TestStartConnectError(t *testing.T) {
	client := new(MockMQTTClient)
	client.On("Connect").Return(&mockToken{err: errors.New("refused")})
	relay := newTestRelay(DefaultConfig(), nil, client)

	err := relay.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.False(t, relay.IsConnected())
}

func TestRelayPublishesUpdates(t *testing.T) {
	updates := make(chan stream.Update, 3)
	client := new(MockMQTTClient)
	client.On("Connect").Return(&mockToken{})
	client.On("IsConnected").Return(true)
	client.On("Disconnect", uint(1000)).Return()

	published := make(chan string, 3)
	client.On("Publish", mock.Anything, byte(1), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published <- args.String(0) }).
		Return(&mockToken{})

	relay := newTestRelay(DefaultConfig(), updates, client)
	require.NoError(t, relay.Start())

	updates <- stream.Update{Kind: stream.UpdateState, State: common.StateConnected}
	updates <- stream.Update{Kind: stream.UpdateTelemetry, Snapshot: common.Snapshot{Battery: common.Float(80)}}
	updates <- stream.Update{Kind: stream.UpdateLog, Entry: common.LogEntry{ID: "1", Level: common.LevelInfo}}

	var topics []string
	for i := 0; i < 3; i++ {
		select {
		case topic := <-published:
			topics = append(topics, topic)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}
	assert.Equal(t, []string{"drone/status", "drone/telemetry", "drone/logs"}, topics)

	require.NoError(t, relay.Stop())
	client.AssertCalled(t, "Publish", "drone/status", byte(1), true, mock.Anything)
	client.AssertCalled(t, "Publish", "drone/telemetry", byte(1), false, mock.Anything)
	client.AssertCalled(t, "Disconnect", uint(1000))
}

func TestPublishNotConnected(t *testing.T) {
	client := new(MockMQTTClient)
	client.On("IsConnected").Return(false)
	relay := newTestRelay(DefaultConfig(), nil, client)
	relay.mqttClient = client

	err := relay.publishUpdate(stream.Update{Kind: stream.UpdateTelemetry})
	assert.EqualError(t, err, "MQTT client not connected")
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishError(t *testing.T) {
	client := new(MockMQTTClient)
	client.On("IsConnected").Return(true)
	client.On("Publish", "drone/logs", byte(1), false, mock.Anything).Return(&mockToken{err: errors.New("broker gone")})
	relay := newTestRelay(DefaultConfig(), nil, client)
	relay.mqttClient = client

	err := relay.publishUpdate(stream.Update{Kind: stream.UpdateLog})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drone/logs")
	assert.Contains(t, err.Error(), "broker gone")
}

func TestPublishUnknownKind(t *testing.T) {
	relay := newTestRelay(DefaultConfig(), nil, new(MockMQTTClient))

	assert.Error(t, relay.publishUpdate(stream.Update{Kind: stream.UpdateKind(42)}))
}

func TestEncodeJSON(t *testing.T) {
	relay := newTestRelay(DefaultConfig(), nil, new(MockMQTTClient))

	payload, err := relay.encode(common.Snapshot{Battery: common.Float(42.5), Mode: common.String("Auto")})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 42.5, decoded["battery"])
	assert.Equal(t, "Auto", decoded["mode"])
	assert.NotContains(t, decoded, "altitude")
}

func TestEncodeMsgpackUsesWireNames(t *testing.T) {
	config := DefaultConfig()
	config.Format = FormatMsgpack
	relay := newTestRelay(config, nil, new(MockMQTTClient))

	payload, err := relay.encode(common.Snapshot{SignalStrength: common.Float(64)})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(payload, &decoded))
	assert.Equal(t, 64.0, decoded["signal_strength"])
	assert.NotContains(t, decoded, "battery")
}

func TestStopWithoutStart(t *testing.T) {
	relay := newTestRelay(DefaultConfig(), nil, new(MockMQTTClient))

	assert.NoError(t, relay.Stop())
	assert.NoError(t, relay.Stop())
}

func TestRelayStopsWhenUpdatesClosed(t *testing.T) {
	updates := make(chan stream.Update)
	client := new(MockMQTTClient)
	client.On("Connect").Return(&mockToken{})
	client.On("IsConnected").Return(false)

	relay := newTestRelay(DefaultConfig(), updates, client)
	require.NoError(t, relay.Start())

	close(updates)
	done := make(chan struct{})
	go func() {
		relay.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish loop did not exit")
	}
	assert.NoError(t, relay.Stop())
}

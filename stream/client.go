package stream

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drone-telemetry/clock"
	"drone-telemetry/common"
	"drone-telemetry/wire"
)

const (
	DefaultURL            = "ws://localhost:8081"
	DefaultReconnectDelay = 3000 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
)

// Тексты служебных записей журнала
const (
	msgConnected        = "WebSocket connected to telemetry server"
	msgConnectionLost   = "WebSocket connection lost. Attempting to reconnect..."
	msgManualDisconnect = "WebSocket manually disconnected"
	msgConnectionError  = "WebSocket connection error occurred"
)

// Config представляет конфигурацию клиента потока телеметрии
type Config struct {
	URL            string        `mapstructure:"url"`             // Адрес источника, например "ws://localhost:8081"
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"` // Пауза перед автоматическим переподключением
	HistorySize    int           `mapstructure:"history_size"`    // Емкость журнала
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут рукопожатия, 0 - без ограничения
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		ReconnectDelay: DefaultReconnectDelay,
		HistorySize:    DefaultHistorySize,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// UpdateKind - вид изменения наблюдаемого состояния
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdateTelemetry
	UpdateLog
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateTelemetry:
		return "telemetry"
	case UpdateLog:
		return "log"
	}
	return "unknown"
}

// Update доставляется подписчикам при каждом изменении состояния.
// Заполнено только поле, соответствующее Kind.
type Update struct {
	Kind     UpdateKind
	State    common.ConnectionState
	Snapshot common.Snapshot
	Entry    common.LogEntry
}

// Option настраивает Client
type Option func(*Client)

// WithDialer подменяет транспорт
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock подменяет часы (таймер переподключения и отметки времени)
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger задает журнал оператора для внутренних ошибок
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithIDGenerator подменяет генератор идентификаторов записей
func WithIDGenerator(gen func() string) Option {
	return func(c *Client) { c.newID = gen }
}

// WithDebug включает построчное логирование входящих кадров
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// Client держит одно логическое соединение с источником телеметрии,
// декодирует кадры и хранит последний снимок, журнал и состояние соединения.
//
// Каждая попытка соединения получает номер поколения; события от
// вытесненных попыток игнорируются. Поэтому в любой момент существует не
// более одной живой попытки и не более одного ожидающего таймера.
type Client struct {
	config Config
	dialer Dialer
	clock  clock.Clock
	logger *log.Logger
	newID  func() string
	debug  bool

	mu             sync.Mutex
	state          common.ConnectionState
	manual         bool // Пользователь запросил отключение
	closed         bool
	generation     uint64
	conn           Conn
	cancelDial     context.CancelFunc
	reconnectTimer clock.Timer
	reconnectSeq   uint64
	snapshot       *common.Snapshot
	history        *History
	subscribers    map[int]chan Update
	nextSubscriber int
	dropped        uint64

	wg sync.WaitGroup
}

// NewClient создает клиента. Соединение не открывается до вызова Connect.
func NewClient(config Config, opts ...Option) *Client {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}

	c := &Client{
		config:      config,
		dialer:      WebSocketDialer{HandshakeTimeout: config.ConnectTimeout},
		clock:       clock.Real(),
		logger:      log.New(os.Stdout, "[Stream-Client] ", log.LstdFlags|log.Lshortfile),
		newID:       uuid.NewString,
		state:       common.StateDisconnected,
		history:     NewHistory(config.HistorySize),
		subscribers: make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect выражает намерение подключиться. Сбрасывает флаг ручного
// отключения; ничего не делает, если соединение уже устанавливается или
// установлено. Состояние connecting выставляется синхронно.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.manual = false
	if c.state != common.StateDisconnected {
		return
	}
	c.startLocked()
}

// Disconnect отключается и запрещает автоматическое переподключение
// до следующего Connect. Отменяет ожидающий таймер и незавершенную попытку.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close отключается, закрывает все подписки и ждет завершения горутин
func (c *Client) Close() {
	c.mu.Lock()
	c.disconnectLocked()
	c.closed = true
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// State возвращает текущее состояние соединения
func (c *Client) State() common.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ManuallyDisconnected возвращает true, если действует запрет переподключения
func (c *Client) ManuallyDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual
}

// Snapshot возвращает копию последнего снимка; false, пока снимков не было
func (c *Client) Snapshot() (common.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return common.Snapshot{}, false
	}
	return c.snapshot.Clone(), true
}

// Logs возвращает копию журнала от старых записей к новым
func (c *Client) Logs() []common.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Entries()
}

// Dropped возвращает число обновлений, не доставленных медленным подписчикам
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Subscribe регистрирует подписчика. Доставка неблокирующая: если буфер
// заполнен, обновление теряется, но аксессоры остаются актуальными.
// Возвращенная функция отменяет подписку и закрывает канал.
func (c *Client) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

func (c *Client) disconnectLocked() {
	c.manual = true
	c.stopReconnectLocked()

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Printf("Failed to close connection: %v", err)
		}
		c.conn = nil
	}

	c.setStateLocked(common.StateDisconnected)
}

// startLocked запускает новую попытку, вытесняя все предыдущие
func (c *Client) startLocked() {
	c.stopReconnectLocked()
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.setStateLocked(common.StateConnecting)

	c.wg.Add(1)
	go c.run(ctx, cancel, gen)
}

// run устанавливает соединение и читает кадры до его закрытия
func (c *Client) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	c.logger.Printf("Connecting to %s", c.config.URL)
	conn, err := c.dialer.Dial(ctx, c.config.URL)
	if err != nil {
		c.handleClose(gen, err, true)
		return
	}

	if !c.handleOpen(gen, conn) {
		conn.Close()
		c.handleClose(gen, nil, false)
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err, !isCleanClose(err))
			return
		}
		c.handleFrame(gen, messageType, data)
	}
}

func (c *Client) handleOpen(gen uint64, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.manual {
		return false
	}

	c.conn = conn
	c.cancelDial = nil
	c.setStateLocked(common.StateConnected)
	c.appendLocked(common.LevelInfo, common.CategoryConnection, msgConnected)
	c.logger.Printf("Connected to %s", c.config.URL)
	return true
}

// handleClose обрабатывает закрытие соединения или неудачную попытку.
// transportErr означает аварийное завершение, которое дополнительно
// отражается записью уровня error.
func (c *Client) handleClose(gen uint64, err error, transportErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.conn = nil
	c.cancelDial = nil

	if c.manual {
		c.setStateLocked(common.StateDisconnected)
		c.appendLocked(common.LevelInfo, common.CategoryConnection, msgManualDisconnect)
		c.logger.Println("Disconnected by user request")
		return
	}

	if transportErr {
		c.logger.Printf("Connection error: %v", err)
		c.appendLocked(common.LevelError, common.CategoryConnection, msgConnectionError)
	}

	c.setStateLocked(common.StateDisconnected)
	c.appendLocked(common.LevelWarning, common.CategoryConnection, msgConnectionLost)
	c.scheduleReconnectLocked()
}

func (c *Client) handleFrame(gen uint64, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		c.logger.Printf("Dropping non-text frame (type %d, %d bytes)", messageType, len(data))
		return
	}

	msg, err := wire.Decode(data)
	if err != nil {
		c.logger.Printf("Dropping frame: %v", err)
		return
	}
	if c.debug {
		c.logger.Printf("Received %s frame (%d bytes)", msg.MessageType(), len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.manual {
		return
	}

	switch m := msg.(type) {
	case *wire.TelemetryMessage:
		snapshot := m.Snapshot
		c.snapshot = &snapshot
		c.publishLocked(Update{Kind: UpdateTelemetry, Snapshot: snapshot.Clone()})
	case *wire.LogMessage:
		c.appendLocked(m.Level, m.Category, m.Message)
	}
}

// scheduleReconnectLocked взводит единственный таймер переподключения
func (c *Client) scheduleReconnectLocked() {
	c.stopReconnectLocked()

	seq := c.reconnectSeq
	c.reconnectTimer = c.clock.AfterFunc(c.config.ReconnectDelay, func() {
		c.reconnect(seq)
	})
	c.logger.Printf("Reconnecting in %v...", c.config.ReconnectDelay)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectSeq++
}

func (c *Client) reconnect(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.reconnectSeq || c.reconnectTimer == nil {
		return
	}
	c.reconnectTimer = nil
	if c.manual || c.closed || c.state != common.StateDisconnected {
		return
	}
	c.startLocked()
}

func (c *Client) appendLocked(level common.LogLevel, category, message string) {
	entry := common.LogEntry{
		ID:        c.newID(),
		Timestamp: c.clock.Now().UTC(),
		Level:     level,
		Category:  category,
		Message:   message,
	}
	c.history.Append(entry)
	c.publishLocked(Update{Kind: UpdateLog, Entry: entry})
}

func (c *Client) setStateLocked(state common.ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	c.publishLocked(Update{Kind: UpdateState, State: state})
}

func (c *Client) publishLocked(update Update) {
	for _, ch := range c.subscribers {
		select {
		case ch <- update:
		default:
			c.dropped++
		}
	}
}

package simulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"drone-telemetry/clock"
	"drone-telemetry/common"
	"drone-telemetry/wire"
)

var logger = log.New(os.Stdout, "[Telemetry-Source] ", log.LstdFlags|log.Lshortfile)

const welcomeMessage = "Drone telemetry stream initiated"

// Config представляет конфигурацию имитатора источника
type Config struct {
	Listen            string        `mapstructure:"listen"`             // Адрес, например ":8081"
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"` // Период рассылки телеметрии
	LogIntervalMin    time.Duration `mapstructure:"log_interval_min"`   // Минимальная пауза между событиями журнала
	LogIntervalMax    time.Duration `mapstructure:"log_interval_max"`   // Максимальная пауза
	LogProbability    float64       `mapstructure:"log_probability"`    // Вероятность события на тике журнала
	SendQueue         int           `mapstructure:"send_queue"`         // Очередь кадров на клиента
	Seed              int64         `mapstructure:"seed"`               // 0 - от текущего времени
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Listen:            ":8081",
		TelemetryInterval: time.Second,
		LogIntervalMin:    2 * time.Second,
		LogIntervalMax:    5 * time.Second,
		LogProbability:    0.7,
		SendQueue:         32,
	}
}

// Server - имитатор источника телеметрии: хранит состояние дрона,
// периодически изменяет его и рассылает подписчикам по WebSocket
type Server struct {
	config   Config
	clock    clock.Clock
	echo     *echo.Echo
	hub      *Hub
	upgrader websocket.Upgrader

	mu    sync.Mutex // Защищает state и rng
	state State
	rng   *rand.Rand

	wg sync.WaitGroup
}

// NewServer создает сервер; clk может быть nil
func NewServer(config Config, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Server{
		config: config,
		clock:  clk,
		hub:    NewHub(config.SendQueue),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Дашборд открывается с другого порта
				return true
			},
		},
		state: InitialState(),
		rng:   rand.New(rand.NewSource(seed)),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/", s.handleWebSocket)
	e.GET("/health", s.handleHealth)
	s.echo = e

	return s
}

// Handler возвращает HTTP обработчик (для httptest)
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub возвращает хаб рассылки
func (s *Server) Hub() *Hub {
	return s.hub
}

// State возвращает текущее состояние дрона
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick продвигает состояние на шаг и рассылает его
func (s *Server) Tick() {
	s.mu.Lock()
	s.state = Next(s.state, s.rng)
	state := s.state
	s.mu.Unlock()

	frame, err := wire.EncodeTelemetry(state)
	if err != nil {
		logger.Printf("Failed to encode telemetry: %v", err)
		return
	}
	s.hub.Broadcast(frame)
}

// EmitLog с вероятностью LogProbability рассылает событие журнала.
// Возвращает true, если событие было разослано.
func (s *Server) EmitLog() bool {
	s.mu.Lock()
	if s.rng.Float64() >= s.config.LogProbability {
		s.mu.Unlock()
		return false
	}
	payload := GenerateLog(s.state, s.rng)
	s.mu.Unlock()

	frame, err := wire.EncodeLog(payload)
	if err != nil {
		logger.Printf("Failed to encode log: %v", err)
		return false
	}
	s.hub.Broadcast(frame)
	return true
}

// Start запускает периодические рассылки до отмены ctx
func (s *Server) Start(ctx context.Context) {
	s.scheduleTelemetry(ctx)
	s.scheduleLog(ctx)
}

// Run слушает адрес из конфигурации и рассылает данные до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.Start(ctx)
	logger.Printf("WebSocket server running on %s", s.config.Listen)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to serve on %s: %w", s.config.Listen, err)
	}

	logger.Println("Shutting down WebSocket server...")
	s.hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.wg.Wait()

	logger.Println("WebSocket server closed")
	return nil
}

func (s *Server) scheduleTelemetry(ctx context.Context) {
	s.clock.AfterFunc(s.config.TelemetryInterval, func() {
		if ctx.Err() != nil {
			return
		}
		s.Tick()
		s.scheduleTelemetry(ctx)
	})
}

func (s *Server) scheduleLog(ctx context.Context) {
	s.clock.AfterFunc(s.nextLogDelay(), func() {
		if ctx.Err() != nil {
			return
		}
		s.EmitLog()
		s.scheduleLog(ctx)
	})
}

func (s *Server) nextLogDelay() time.Duration {
	spread := s.config.LogIntervalMax - s.config.LogIntervalMin
	if spread <= 0 {
		return s.config.LogIntervalMin
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.LogIntervalMin + time.Duration(s.rng.Int63n(int64(spread)))
}

// handleWebSocket подключает клиента: сначала текущая телеметрия и
// приветственное событие, затем общие рассылки
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	telemetry, err := wire.EncodeTelemetry(s.State())
	if err != nil {
		conn.Close()
		return err
	}
	welcome, err := wire.EncodeLog(wire.LogPayload{
		Level:    common.LevelInfo,
		Category: common.CategoryConnection,
		Message:  welcomeMessage,
	})
	if err != nil {
		conn.Close()
		return err
	}

	sub := s.hub.Register(telemetry, welcome)
	logger.Printf("New client connected (%d total)", s.hub.Count())

	s.wg.Add(1)
	go s.writeLoop(conn, sub)

	// Входящие кадры не нужны, чтение только обнаруживает закрытие
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Printf("Client connection error: %v", err)
			}
			break
		}
	}

	s.hub.Unregister(sub)
	logger.Printf("Client disconnected (%d total)", s.hub.Count())
	return nil
}

func (s *Server) writeLoop(conn *websocket.Conn, sub *Subscriber) {
	defer s.wg.Done()
	defer conn.Close()

	for frame := range sub.send {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logger.Printf("Failed to send frame: %v", err)
			s.hub.Unregister(sub)
			// Дочитываем очередь, пока хаб ее не закрыл
			for range sub.send {
			}
			return
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

func (s *Server) handleHealth(c echo.Context) error {
	state := s.State()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"clients":      s.hub.Count(),
		"battery":      state.Battery,
		"connectivity": state.Connectivity,
	})
}

package common

import "time"

// LogLevel представляет уровень записи журнала телеметрии
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Valid возвращает true для известных уровней
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// ConnectionState представляет состояние соединения с источником телеметрии
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Значения поля connectivity, которые присылает источник
const (
	ConnectivityConnected    = "Connected"
	ConnectivityWeak         = "Weak"
	ConnectivityDisconnected = "Disconnected"
)

// ModeAuto - режим полета по умолчанию
const ModeAuto = "Auto"

// CategoryConnection - категория служебных записей о соединении
const CategoryConnection = "CONNECTION"

// Obstacle представляет препятствие относительно дрона
type Obstacle struct {
	ID       string  `json:"id"`       // Уникален в пределах одного снимка
	Angle    float64 `json:"angle"`    // Относительный пеленг, градусы
	Distance float64 `json:"distance"` // Дистанция, метры
	Type     string  `json:"type"`     // "static", "dynamic", ...
}

// Position представляет координаты дрона
type Position struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Snapshot представляет последнее известное состояние дрона.
// Каждое новое сообщение telemetry полностью заменяет снимок, поэтому
// отсутствующие в payload поля остаются nil.
type Snapshot struct {
	Battery        *float64   `json:"battery,omitempty"`         // 0-100
	Mode           *string    `json:"mode,omitempty"`            // "Auto", ...
	Connectivity   *string    `json:"connectivity,omitempty"`    // Connected|Weak|Disconnected
	SignalStrength *float64   `json:"signal_strength,omitempty"` // 0-100
	Altitude       *float64   `json:"altitude,omitempty"`        // Метры
	Speed          *float64   `json:"speed,omitempty"`           // м/с
	Heading        *float64   `json:"heading,omitempty"`         // Градусы
	Pitch          *float64   `json:"pitch,omitempty"`
	Roll           *float64   `json:"roll,omitempty"`
	Yaw            *float64   `json:"yaw,omitempty"`
	Position       *Position  `json:"position,omitempty"`
	Obstacles      []Obstacle `json:"obstacles,omitempty"`
}

// TelemetryView - снимок с подставленными значениями по умолчанию для отображения
type TelemetryView struct {
	Battery        float64
	Mode           string
	Connectivity   string
	SignalStrength float64
	Altitude       float64
	Speed          float64
	Heading        float64
	Pitch          float64
	Roll           float64
	Yaw            float64
	Position       *PositionView
	Obstacles      []Obstacle
}

// PositionView - координаты с подставленными нулями
type PositionView struct {
	Latitude  float64
	Longitude float64
	Heading   float64
}

// View возвращает представление снимка для потребителей: отсутствующие числа
// становятся нулями, отсутствующие препятствия - пустым списком.
// Сам снимок не изменяется.
func (s Snapshot) View() TelemetryView {
	v := TelemetryView{
		Battery:        orZero(s.Battery),
		Mode:           orEmpty(s.Mode),
		Connectivity:   orEmpty(s.Connectivity),
		SignalStrength: orZero(s.SignalStrength),
		Altitude:       orZero(s.Altitude),
		Speed:          orZero(s.Speed),
		Heading:        orZero(s.Heading),
		Pitch:          orZero(s.Pitch),
		Roll:           orZero(s.Roll),
		Yaw:            orZero(s.Yaw),
		Obstacles:      make([]Obstacle, len(s.Obstacles)),
	}
	copy(v.Obstacles, s.Obstacles)

	if s.Position != nil {
		v.Position = &PositionView{
			Latitude:  orZero(s.Position.Latitude),
			Longitude: orZero(s.Position.Longitude),
			Heading:   orZero(s.Position.Heading),
		}
	}

	return v
}

// Clone возвращает глубокую копию снимка
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Battery:        clonePtr(s.Battery),
		Mode:           clonePtr(s.Mode),
		Connectivity:   clonePtr(s.Connectivity),
		SignalStrength: clonePtr(s.SignalStrength),
		Altitude:       clonePtr(s.Altitude),
		Speed:          clonePtr(s.Speed),
		Heading:        clonePtr(s.Heading),
		Pitch:          clonePtr(s.Pitch),
		Roll:           clonePtr(s.Roll),
		Yaw:            clonePtr(s.Yaw),
	}
	if s.Position != nil {
		out.Position = &Position{
			Latitude:  clonePtr(s.Position.Latitude),
			Longitude: clonePtr(s.Position.Longitude),
			Heading:   clonePtr(s.Position.Heading),
		}
	}
	if s.Obstacles != nil {
		out.Obstacles = make([]Obstacle, len(s.Obstacles))
		copy(out.Obstacles, s.Obstacles)
	}
	return out
}

// LogEntry представляет запись журнала. id и timestamp генерируются
// клиентом в момент получения, источник их не передает.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
}

// Float возвращает указатель на значение, удобно для сборки снимков
func Float(v float64) *float64 {
	return &v
}

// String возвращает указатель на строку
func String(v string) *string {
	return &v
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func orEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

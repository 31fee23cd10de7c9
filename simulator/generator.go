package simulator

import (
	"math"
	"math/rand"

	"drone-telemetry/common"
	"drone-telemetry/wire"
)

// movementStep - смещение координат за один тик, градусы
const movementStep = 0.00005

// ObstacleState - препятствие в состоянии симулятора
type ObstacleState struct {
	ID       string  `json:"id"`
	Angle    float64 `json:"angle"`
	Distance float64 `json:"distance"`
	Type     string  `json:"type"`
}

// PositionState - координаты дрона
type PositionState struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
}

// State - полное состояние дрона. JSON теги совпадают с payload сообщения telemetry.
type State struct {
	Battery        float64         `json:"battery"`
	Mode           string          `json:"mode"`
	Connectivity   string          `json:"connectivity"`
	SignalStrength float64         `json:"signal_strength"`
	Altitude       float64         `json:"altitude"`
	Speed          float64         `json:"speed"`
	Heading        float64         `json:"heading"`
	Pitch          float64         `json:"pitch"`
	Roll           float64         `json:"roll"`
	Yaw            float64         `json:"yaw"`
	Position       PositionState   `json:"position"`
	Obstacles      []ObstacleState `json:"obstacles"`
}

// InitialState возвращает стартовое состояние (Сан-Франциско, режим Auto)
func InitialState() State {
	return State{
		Battery:        85,
		Mode:           common.ModeAuto,
		Connectivity:   common.ConnectivityConnected,
		SignalStrength: 78,
		Altitude:       25.3,
		Speed:          12.5,
		Heading:        45,
		Pitch:          2.1,
		Roll:           -1.8,
		Yaw:            45.2,
		Position: PositionState{
			Latitude:  37.7749,
			Longitude: -122.4194,
			Heading:   45,
		},
		Obstacles: []ObstacleState{
			{ID: "1", Angle: 30, Distance: 45, Type: "static"},
			{ID: "2", Angle: 120, Distance: 78, Type: "dynamic"},
			{ID: "3", Angle: 250, Distance: 23, Type: "static"},
		},
	}
}

// Next вычисляет следующее состояние. Функция чистая: prev не изменяется,
// вся случайность берется из rng.
func Next(prev State, rng *rand.Rand) State {
	next := prev
	next.Obstacles = append([]ObstacleState(nil), prev.Obstacles...)

	next.Battery = math.Max(0, prev.Battery-rng.Float64()*0.5)
	next.Altitude += jitter(rng, 2)
	next.Speed += jitter(rng, 3)
	next.Heading += jitter(rng, 5)
	next.Pitch += jitter(rng, 2)
	next.Roll += jitter(rng, 2)
	next.Yaw += jitter(rng, 3)
	next.SignalStrength += jitter(rng, 10)

	// Движение вдоль текущего курса позиции
	direction := prev.Position.Heading * math.Pi / 180
	next.Position.Latitude += math.Cos(direction) * movementStep * (rng.Float64() + 0.5)
	next.Position.Longitude += math.Sin(direction) * movementStep * (rng.Float64() + 0.5)

	next.Altitude = clamp(next.Altitude, 0, 100)
	next.Speed = clamp(next.Speed, 0, 25)
	next.Heading = wrapDegrees(next.Heading)
	next.Pitch = clamp(next.Pitch, -30, 30)
	next.Roll = clamp(next.Roll, -30, 30)
	next.Yaw = wrapDegrees(next.Yaw)
	next.SignalStrength = clamp(next.SignalStrength, 0, 100)
	next.Position.Heading = next.Heading
	next.Connectivity = connectivityFor(next.SignalStrength)

	if rng.Float64() > 0.8 {
		for i := range next.Obstacles {
			next.Obstacles[i].Angle = math.Mod(next.Obstacles[i].Angle+jitter(rng, 10), 360)
			next.Obstacles[i].Distance = clamp(next.Obstacles[i].Distance+jitter(rng, 20), 10, 100)
		}
	}

	return next
}

// connectivityFor определяет качество связи по уровню сигнала
func connectivityFor(signal float64) string {
	switch {
	case signal > 70:
		return common.ConnectivityConnected
	case signal > 30:
		return common.ConnectivityWeak
	default:
		return common.ConnectivityDisconnected
	}
}

var logCategories = []string{"NAVIGATION", "SENSOR", "BATTERY", "CONNECTION", "OBSTACLE"}

var logMessages = map[string][]string{
	"NAVIGATION": {
		"GPS signal lost, switching to visual navigation",
		"Waypoint reached, proceeding to next target",
		"Course correction applied",
		"Landing sequence initiated",
	},
	"SENSOR": {
		"IMU calibration complete",
		"Lidar obstacle detected",
		"Camera focus adjusted",
		"Magnetometer drift compensation applied",
	},
	"BATTERY": {
		"Battery temperature normal",
		"Power consumption optimized",
		"Low battery warning threshold reached",
		"Charging system status normal",
	},
	"CONNECTION": {
		"Telemetry link established",
		"Data transmission rate optimized",
		"Signal strength fluctuation detected",
		"Communication protocol updated",
	},
	"OBSTACLE": {
		"Obstacle avoidance maneuver executed",
		"Clear path confirmed",
		"Dynamic obstacle tracked",
		"Safety perimeter maintained",
	},
}

var logLevels = []common.LogLevel{common.LevelInfo, common.LevelWarning, common.LevelError}

// GenerateLog создает событие журнала. Уровень повышается при низком заряде
// и плохой связи; в 10% случаев выбирается случайный уровень.
func GenerateLog(state State, rng *rand.Rand) wire.LogPayload {
	category := logCategories[rng.Intn(len(logCategories))]
	messages := logMessages[category]
	message := messages[rng.Intn(len(messages))]

	level := common.LevelInfo
	if state.Battery < 20 {
		level = common.LevelWarning
	}
	if state.Battery < 10 {
		level = common.LevelError
	}
	switch state.Connectivity {
	case common.ConnectivityDisconnected:
		level = common.LevelError
	case common.ConnectivityWeak:
		level = common.LevelWarning
	}
	if rng.Float64() > 0.9 {
		level = logLevels[rng.Intn(len(logLevels))]
	}

	return wire.LogPayload{
		Level:    level,
		Category: category,
		Message:  message,
	}
}

func jitter(rng *rand.Rand, span float64) float64 {
	return (rng.Float64() - 0.5) * span
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapDegrees(v float64) float64 {
	return math.Mod(math.Mod(v, 360)+360, 360)
}

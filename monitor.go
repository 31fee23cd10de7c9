package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"drone-telemetry/common"
	"drone-telemetry/stream"
)

// source - часть stream.Client, нужная монитору
type source interface {
	State() common.ConnectionState
	Snapshot() (common.Snapshot, bool)
	Logs() []common.LogEntry
	Dropped() uint64
}

// monitor выводит обновления клиента потока и периодическую строку состояния
type monitor struct {
	client        source
	logger        *log.Logger
	now           func() time.Time
	lastTelemetry time.Time
	frames        uint64
}

func newMonitor(client source, logger *log.Logger) *monitor {
	return &monitor{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// handle обрабатывает одно обновление
func (m *monitor) handle(update stream.Update) {
	switch update.Kind {
	case stream.UpdateState:
		m.logger.Printf("Connection state: %s", update.State)
	case stream.UpdateTelemetry:
		m.lastTelemetry = m.now()
		m.frames++
	case stream.UpdateLog:
		m.logger.Println(formatEntry(update.Entry))
	}
}

// status возвращает строку состояния для периодического вывода
func (m *monitor) status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s", m.client.State())

	snapshot, ok := m.client.Snapshot()
	if !ok {
		b.WriteString(" telemetry=none")
	} else {
		v := snapshot.View()
		fmt.Fprintf(&b, " battery=%.1f%% alt=%.1fm speed=%.1fm/s heading=%.0f° signal=%.0f%% (%s) obstacles=%d",
			v.Battery, v.Altitude, v.Speed, v.Heading, v.SignalStrength, v.Connectivity, len(v.Obstacles))
		if v.Position != nil {
			fmt.Fprintf(&b, " pos=%.5f,%.5f", v.Position.Latitude, v.Position.Longitude)
		}
		fmt.Fprintf(&b, " updated %s", humanize.RelTime(m.lastTelemetry, m.now(), "ago", "from now"))
	}

	fmt.Fprintf(&b, " frames=%s logs=%d", humanize.Comma(int64(m.frames)), len(m.client.Logs()))
	if dropped := m.client.Dropped(); dropped > 0 {
		fmt.Fprintf(&b, " dropped=%s", humanize.Comma(int64(dropped)))
	}
	return b.String()
}

// formatEntry форматирует запись журнала в одну строку
func formatEntry(entry common.LogEntry) string {
	return fmt.Sprintf("%s [%s] %s: %s",
		entry.Timestamp.Format("15:04:05"), strings.ToUpper(string(entry.Level)), entry.Category, entry.Message)
}

package main

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"drone-telemetry/common"
	"drone-telemetry/stream"
)

type fakeSource struct {
	state    common.ConnectionState
	snapshot *common.Snapshot
	logs     []common.LogEntry
	dropped  uint64
}

func (f *fakeSource) State() common.ConnectionState { return f.state }
func (f *fakeSource) Logs() []common.LogEntry       { return f.logs }
func (f *fakeSource) Dropped() uint64               { return f.dropped }

func (f *fakeSource) Snapshot() (common.Snapshot, bool) {
	if f.snapshot == nil {
		return common.Snapshot{}, false
	}
	return *f.snapshot, true
}

func TestStatusWithoutTelemetry(t *testing.T) {
	mon := newMonitor(&fakeSource{state: common.StateConnecting}, log.New(&bytes.Buffer{}, "", 0))

	assert.Equal(t, "state=connecting telemetry=none frames=0 logs=0", mon.status())
}

func TestStatusWithTelemetry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		state: common.StateConnected,
		snapshot: &common.Snapshot{
			Battery:      common.Float(72.5),
			Connectivity: common.String(common.ConnectivityWeak),
			Position:     &common.Position{Latitude: common.Float(37.7749)},
		},
		logs:    make([]common.LogEntry, 3),
		dropped: 1200,
	}
	mon := newMonitor(src, log.New(&bytes.Buffer{}, "", 0))
	mon.now = func() time.Time { return now.Add(-10 * time.Second) }
	mon.handle(stream.Update{Kind: stream.UpdateTelemetry})
	mon.now = func() time.Time { return now }

	status := mon.status()
	assert.Contains(t, status, "state=connected")
	assert.Contains(t, status, "battery=72.5%")
	assert.Contains(t, status, "(Weak)")
	assert.Contains(t, status, "obstacles=0")
	assert.Contains(t, status, "pos=37.77490,0.00000")
	assert.Contains(t, status, "updated 10 seconds ago")
	assert.Contains(t, status, "frames=1 logs=3")
	assert.Contains(t, status, "dropped=1,200")
}

func TestHandleLogsStateAndEntries(t *testing.T) {
	var out bytes.Buffer
	mon := newMonitor(&fakeSource{}, log.New(&out, "", 0))

	mon.handle(stream.Update{Kind: stream.UpdateState, State: common.StateDisconnected})
	mon.handle(stream.Update{Kind: stream.UpdateLog, Entry: common.LogEntry{
		Timestamp: time.Date(2024, 5, 1, 8, 30, 15, 0, time.UTC),
		Level:     common.LevelWarning,
		Category:  "BATTERY",
		Message:   "Battery level low",
	}})

	assert.Equal(t, "Connection state: disconnected\n08:30:15 [WARNING] BATTERY: Battery level low\n", out.String())
}

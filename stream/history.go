package stream

import "drone-telemetry/common"

// DefaultHistorySize - сколько последних записей журнала хранит клиент
const DefaultHistorySize = 100

// History - кольцевой буфер записей журнала фиксированной емкости.
// Append работает за O(1); при переполнении вытесняется самая старая запись.
// History не потокобезопасен, синхронизацию обеспечивает Client.
type History struct {
	entries []common.LogEntry
	start   int // Индекс самой старой записи
	size    int
}

// NewHistory создает буфер. Емкость <= 0 заменяется на DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]common.LogEntry, capacity)}
}

// Append добавляет запись в хвост
func (h *History) Append(entry common.LogEntry) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = entry
		h.size++
		return
	}

	h.entries[h.start] = entry
	h.start = (h.start + 1) % capacity
}

// Entries возвращает копию записей от старых к новым
func (h *History) Entries() []common.LogEntry {
	out := make([]common.LogEntry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.entries[(h.start+i)%len(h.entries)]
	}
	return out
}

// Last возвращает самую новую запись
func (h *History) Last() (common.LogEntry, bool) {
	if h.size == 0 {
		return common.LogEntry{}, false
	}
	return h.entries[(h.start+h.size-1)%len(h.entries)], true
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.entries) }

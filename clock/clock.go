package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock абстрагирует время, чтобы таймеры переподключения можно было
// тестировать без реального ожидания
type Clock interface {
	Now() time.Time
	// AfterFunc вызывает f через d. Возвращенный Timer отменяет вызов.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer - отменяемый отложенный вызов
type Timer interface {
	// Stop возвращает true, если вызов был отменен до срабатывания
	Stop() bool
}

// Real возвращает Clock поверх пакета time
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock - детерминированные часы для тестов. Время стоит на месте,
// пока не вызван Advance. Колбэки вызываются синхронно внутри Advance
// в порядке дедлайнов.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

// Fake создает FakeClock с начальным временем
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	done     bool // сработал или отменен
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Now возвращает текущее фиктивное время
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc регистрирует колбэк. При d <= 0 он сработает на ближайшем Advance.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		clock:    c,
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, timer)
	return timer
}

// Advance сдвигает время на d и вызывает все наступившие колбэки.
// Колбэк, зарегистрированный изнутри другого колбэка, тоже сработает,
// если его дедлайн попадает в новое время.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()

		next.callback()
	}
}

// Pending возвращает число активных таймеров
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, w := range c.waiters {
		if !w.done {
			count++
		}
	}
	return count
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	active := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done {
			active = append(active, w)
		}
	}
	c.waiters = active

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	return c.waiters[0]
}

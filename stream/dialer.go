package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn - открытое соединение с источником. *websocket.Conn удовлетворяет
// этому интерфейсу напрямую.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer открывает соединение. Отмена ctx должна прерывать попытку.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer открывает WebSocket через gorilla/websocket
type WebSocketDialer struct {
	// HandshakeTimeout ограничивает установку соединения, 0 - без ограничения
	HandshakeTimeout time.Duration
}

// Dial устанавливает WebSocket соединение
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return conn, nil
}

// isCleanClose возвращает true для штатного закрытия со стороны источника.
// Все остальные ошибки чтения считаются транспортными.
func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
}

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"drone-telemetry/common"
)

// Типы сообщений в поле "type"
const (
	TypeTelemetry = "telemetry"
	TypeLog       = "log"
)

// Категории ошибок декодирования
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("missing message type")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// DecodeError описывает отброшенный кадр
type DecodeError struct {
	Kind error  // Одна из ErrMalformedFrame, ErrMissingType, ...
	Type string // Значение поля type, если удалось прочитать
	Err  error  // Исходная ошибка парсера, может быть nil
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type %q)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Is(target error) bool {
	return target == e.Kind
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Envelope представляет кадр протокола: один JSON объект на сообщение
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// LogPayload - содержимое сообщения log. id и timestamp источник не передает.
type LogPayload struct {
	Level    common.LogLevel `json:"level"`
	Category string          `json:"category"`
	Message  string          `json:"message"`
}

// Message - декодированное сообщение: *TelemetryMessage или *LogMessage
type Message interface {
	MessageType() string
}

// TelemetryMessage несет полный снимок телеметрии
type TelemetryMessage struct {
	Snapshot common.Snapshot
}

func (*TelemetryMessage) MessageType() string { return TypeTelemetry }

// LogMessage несет событие журнала от источника
type LogMessage struct {
	LogPayload
}

func (*LogMessage) MessageType() string { return TypeLog }

// strictLog используется для проверки наличия обязательных полей
type strictLog struct {
	Level    *string `json:"level"`
	Category *string `json:"category"`
	Message  *string `json:"message"`
}

// Decode разбирает кадр и проверяет схему payload для его типа.
// Любая ошибка возвращается как *DecodeError.
func Decode(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Kind: ErrMalformedFrame}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &DecodeError{Kind: ErrMalformedFrame, Err: err}
	}

	switch env.Type {
	case "":
		return nil, &DecodeError{Kind: ErrMissingType}
	case TypeTelemetry:
		return decodeTelemetry(env.Payload)
	case TypeLog:
		return decodeLog(env.Payload)
	default:
		return nil, &DecodeError{Kind: ErrUnknownType, Type: env.Type}
	}
}

func decodeTelemetry(payload json.RawMessage) (Message, error) {
	if !isObject(payload) {
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeTelemetry}
	}

	var snapshot common.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeTelemetry, Err: err}
	}

	return &TelemetryMessage{Snapshot: snapshot}, nil
}

func decodeLog(payload json.RawMessage) (Message, error) {
	if !isObject(payload) {
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog}
	}

	var raw strictLog
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog, Err: err}
	}

	switch {
	case raw.Level == nil:
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog, Err: errors.New("level is required")}
	case !common.LogLevel(*raw.Level).Valid():
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog, Err: fmt.Errorf("unknown level %q", *raw.Level)}
	case raw.Category == nil:
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog, Err: errors.New("category is required")}
	case raw.Message == nil:
		return nil, &DecodeError{Kind: ErrInvalidPayload, Type: TypeLog, Err: errors.New("message is required")}
	}

	return &LogMessage{LogPayload{
		Level:    common.LogLevel(*raw.Level),
		Category: *raw.Category,
		Message:  *raw.Message,
	}}, nil
}

func isObject(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// EncodeTelemetry собирает кадр telemetry из любого значения с JSON тегами снимка
func EncodeTelemetry(snapshot any) ([]byte, error) {
	return encode(TypeTelemetry, snapshot)
}

// EncodeLog собирает кадр log
func EncodeLog(payload LogPayload) ([]byte, error) {
	return encode(TypeLog, payload)
}

func encode(msgType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	frame, err := json.Marshal(Envelope{Type: msgType, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", msgType, err)
	}
	return frame, nil
}

package schema

import "fmt"

// SignalType enumerates the kinds of signals a state chart can receive.
type SignalType string

const (
	SignalText   SignalType = "text"
	SignalBinary SignalType = "binary"
	SignalError  SignalType = "error"
	SignalClosed SignalType = "closed"
	SignalPing   SignalType = "ping"
	SignalPong   SignalType = "pong"
	SignalCustom SignalType = "custom"
)

// Signal is an external event value delivered to a running state chart.
// Name distinguishes custom signals; transition tables match on Name first
// and fall back to Type.
type Signal struct {
	Type    SignalType     `json:"type"`
	Name    string         `json:"name,omitempty"`
	Text    string         `json:"text,omitempty"`
	Data    []byte         `json:"data,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Err     error          `json:"-"`
}

// Key returns the lookup key used by transition tables.
func (s Signal) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Type)
}

func (s Signal) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%s(%s)", s.Type, s.Name)
	}
	return string(s.Type)
}

// AsMap renders the signal as a plain map for expression evaluation.
func (s Signal) AsMap() map[string]any {
	m := map[string]any{
		"type":    string(s.Type),
		"name":    s.Name,
		"text":    s.Text,
		"payload": s.Payload,
	}
	if s.Payload == nil {
		m["payload"] = map[string]any{}
	}
	if s.Err != nil {
		m["error"] = s.Err.Error()
	}
	return m
}

// Named builds a custom signal with the given name and payload.
func Named(name string, payload map[string]any) Signal {
	return Signal{Type: SignalCustom, Name: name, Payload: payload}
}

// TextSignal builds a text message signal.
func TextSignal(text string) Signal {
	return Signal{Type: SignalText, Text: text}
}

// BinarySignal builds a binary message signal.
func BinarySignal(data []byte) Signal {
	return Signal{Type: SignalBinary, Data: data}
}

// ErrorSignal builds a signal carrying a transport error.
func ErrorSignal(err error) Signal {
	return Signal{Type: SignalError, Err: err}
}

// ClosedSignal builds a connection-closed signal.
func ClosedSignal(code int, reason string) Signal {
	return Signal{Type: SignalClosed, Text: reason, Payload: map[string]any{"code": code}}
}

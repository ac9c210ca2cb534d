// Package wsdriver feeds WebSocket frames into a state chart as signals.
package wsdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/pkg/schema"
)

const writeWait = 5 * time.Second

// SignalHandler receives the signals produced by a Driver. *statechart.Chart
// implements it.
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig schema.Signal) bool
}

// Driver dials a WebSocket endpoint and delivers every frame it reads as a
// signal:
//
//	text frame    -> text (or a named signal, see DecodeJSON)
//	binary frame  -> binary
//	ping / pong   -> ping / pong
//	close frame   -> closed, with the close code in the payload
//	read failure  -> error, then closed with code 1006
type Driver struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *slog.Logger

	// DecodeJSON turns text frames holding {"name": ..., "payload": {...}}
	// into named signals. Other text frames stay plain text signals.
	DecodeJSON bool

	// PingInterval sends pings at this interval when positive.
	PingInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// Run dials URL and delivers frames to h until the connection closes or ctx
// is done. A close frame from the peer ends Run with a nil error.
func (d *Driver) Run(ctx context.Context, h SignalHandler) error {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := d.logger()

	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return fmt.Errorf("wsdriver: dial %s: %w", d.URL, err)
	}
	logger.Info("websocket connected", slog.String("url", d.URL))

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		conn.Close()
	}()

	conn.SetPingHandler(func(appData string) error {
		h.HandleSignal(ctx, schema.Signal{Type: schema.SignalPing, Text: appData})
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(appData string) error {
		h.HandleSignal(ctx, schema.Signal{Type: schema.SignalPong, Text: appData})
		return nil
	})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	if d.PingInterval > 0 {
		done := make(chan struct{})
		defer close(done)
		go d.ping(conn, done)
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				logger.Info("websocket closed by peer", slog.Int("code", ce.Code), slog.String("reason", ce.Text))
				h.HandleSignal(ctx, schema.ClosedSignal(ce.Code, ce.Text))
				return nil
			}
			// A dropped connection reports the error, then the close.
			logger.Warn("websocket read failed", slog.String("error", err.Error()))
			h.HandleSignal(ctx, schema.ErrorSignal(err))
			h.HandleSignal(ctx, schema.ClosedSignal(websocket.CloseAbnormalClosure, err.Error()))
			return fmt.Errorf("wsdriver: read: %w", err)
		}

		switch mt {
		case websocket.TextMessage:
			h.HandleSignal(ctx, d.textSignal(data))
		case websocket.BinaryMessage:
			h.HandleSignal(ctx, schema.BinarySignal(data))
		}
	}
}

func (d *Driver) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(d.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

type namedFrame struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

func (d *Driver) textSignal(data []byte) schema.Signal {
	text := string(data)
	if d.DecodeJSON {
		var f namedFrame
		if err := json.Unmarshal(data, &f); err == nil && f.Name != "" {
			sig := schema.Named(f.Name, f.Payload)
			sig.Text = text
			return sig
		}
	}
	return schema.TextSignal(text)
}

// Send writes a text frame. It fails when Run is not connected.
func (d *Driver) Send(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return schema.NewError(schema.ErrCodePrecondition, "websocket is not connected")
	}
	if err := d.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return d.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// RegisterActions adds the ws_send action to reg. Its text argument may
// use ${{...}} interpolation against the action input.
func (d *Driver) RegisterActions(reg *statechart.ActionRegistry) error {
	return reg.Register("ws_send", func(args map[string]any) (statechart.Action, error) {
		text, ok := args["text"].(string)
		if !ok || text == "" {
			return nil, errors.New("argument \"text\" is required")
		}
		return func(_ context.Context, in statechart.Input) error {
			out := text
			if expressions.HasInterpolation(text) {
				var err error
				if out, err = expressions.Interpolate(text, in.Env()); err != nil {
					return err
				}
			}
			return d.Send(out)
		}, nil
	})
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With(slog.String("component", "wsdriver"))
	}
	return slog.Default().With(slog.String("component", "wsdriver"))
}

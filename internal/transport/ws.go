package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the WebSocket transport.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// Backoff is the retry ladder for dialing. The final entry is reused
	// once, then dialing gives up.
	Backoff      []time.Duration
	MaxFrameSize int64
	Logger       *zap.Logger
}

// WebSocket is a Transport over a single WebSocket connection. It never
// redials on its own: a server close frame or read error is reported to the
// handler and the owner decides whether to call Reconnect.
type WebSocket struct {
	opts Options
	h    Handler

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	conn    *websocket.Conn
	gen     int
	started bool
	closed  bool
}

func NewWebSocket(opts Options) *WebSocket {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &WebSocket{opts: opts}
}

func (w *WebSocket) Connect(ctx context.Context, h Handler) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.started = true
	w.h = h
	w.ctx, w.cancel = context.WithCancel(ctx)
	gen := w.gen
	w.mu.Unlock()

	conn, err := w.dial(w.ctx)
	if err != nil {
		return err
	}
	w.adopt(conn, gen)
	return nil
}

// adopt installs conn as the live connection for generation gen and starts
// its read pump. A conn that lost the race to a newer generation is closed.
func (w *WebSocket) adopt(conn *websocket.Conn, gen int) {
	w.mu.Lock()
	if w.closed || gen != w.gen {
		w.mu.Unlock()
		conn.Close()
		return
	}
	if w.opts.MaxFrameSize > 0 {
		conn.SetReadLimit(w.opts.MaxFrameSize)
	}
	w.conn = conn
	w.mu.Unlock()

	go w.readPump(conn, gen)
}

// readPump is the single event goroutine for one connection. OnOpen,
// OnMessage and OnClose for a given generation all run here, in order.
func (w *WebSocket) readPump(conn *websocket.Conn, gen int) {
	if w.h.OnOpen != nil {
		w.h.OnOpen()
	}
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			if w.h.OnMessage != nil {
				w.h.OnMessage(data)
			}
			continue
		}

		w.mu.Lock()
		stale := w.closed || gen != w.gen
		if !stale {
			w.conn = nil
		}
		w.mu.Unlock()
		conn.Close()
		if stale {
			return
		}

		if ce, ok := err.(*websocket.CloseError); ok {
			if w.h.OnClose != nil {
				w.h.OnClose(ce.Code, ce.Text)
			}
		} else if w.h.OnError != nil {
			w.h.OnError(err)
		}
		return
	}
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.opts.DialTimeout}
	var lastErr error
	for attempt := 0; attempt <= len(w.opts.Backoff); attempt++ {
		conn, _, err := dialer.DialContext(ctx, w.opts.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == len(w.opts.Backoff) {
			break
		}
		delay := w.opts.Backoff[attempt]
		w.opts.Logger.Debug("websocket dial failed, retrying",
			zap.String("url", w.opts.URL),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dial %s: %w", w.opts.URL, lastErr)
}

func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Reconnect drops the current connection, if any, and dials again in the
// background. Exactly one generation is live at a time.
func (w *WebSocket) Reconnect() {
	w.mu.Lock()
	if w.closed || !w.started {
		w.mu.Unlock()
		return
	}
	w.gen++
	gen := w.gen
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	ctx := w.ctx
	w.mu.Unlock()

	go func() {
		conn, err := w.dial(ctx)
		if err != nil {
			if w.h.OnError != nil {
				w.h.OnError(err)
			}
			return
		}
		w.adopt(conn, gen)
	}()
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.gen++
	conn := w.conn
	w.conn = nil
	cancel := w.cancel
	w.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

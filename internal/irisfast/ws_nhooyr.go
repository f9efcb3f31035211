package irisfast

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var errNotConnected = errors.New("ws not connected")

const (
	dialTimeout    = 10 * time.Second
	pingTimeout    = 3 * time.Second
	maxPingMisses  = 2
	frameReadLimit = 8 << 20
)

type registered[F any] struct {
	id int
	fn F
}

// registry keeps callbacks in registration order.
type registry[F any] struct {
	mu      sync.RWMutex
	next    int
	entries []registered[F]
}

func (r *registry[F]) add(fn F) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, registered[F]{id: r.next, fn: fn})
	return r.next
}

func (r *registry[F]) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = slices.DeleteFunc(r.entries, func(e registered[F]) bool { return e.id == id })
}

func (r *registry[F]) snapshot() []F {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]F, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.fn)
	}
	return out
}

// WebSocket receives chat events from Iris and writes reply frames on the
// same connection. A single supervisor goroutine owns the connection and
// redials after read or ping failures.
type WebSocket struct {
	url     string
	headers HeaderProvider

	maxReconnect   int
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   WebSocketState
	running bool

	writeMu sync.Mutex

	messages registry[MessageCallback]
	states   registry[StateCallback]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWebSocket creates a client. maxReconnectAttempts <= 0 disables redialing;
// reconnectDelay <= 0 uses exponential backoff from 100ms.
func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *WebSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		url:            wsURL,
		maxReconnect:   maxReconnectAttempts,
		reconnectDelay: reconnectDelay,
		pingInterval:   30 * time.Second,
		state:          WSStateDisconnected,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (ws *WebSocket) State() WebSocketState {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.state
}

// Connect dials once. On failure the supervisor keeps redialing in the
// background when reconnects are enabled, and the dial error is returned.
func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.running {
		ws.mu.Unlock()
		return nil
	}
	ws.running = true
	ws.mu.Unlock()

	ws.setState(WSStateConnecting)
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := ws.dial(dctx)
	cancel()
	if err != nil {
		ws.setState(WSStateFailed)
		if ws.maxReconnect <= 0 {
			ws.mu.Lock()
			ws.running = false
			ws.mu.Unlock()
			return err
		}
	}
	ws.wg.Add(1)
	go ws.supervise(conn)
	return err
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, ws.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	// reply frames may echo base64 boards
	conn.SetReadLimit(frameReadLimit)
	return conn, nil
}

func (ws *WebSocket) supervise(conn *websocket.Conn) {
	defer ws.wg.Done()
	defer func() {
		ws.mu.Lock()
		ws.running = false
		ws.mu.Unlock()
	}()
	for {
		if conn == nil {
			if conn = ws.redial(); conn == nil {
				if ws.ctx.Err() == nil {
					ws.setState(WSStateFailed)
				}
				return
			}
		}
		ws.serve(conn)
		conn = nil
		if ws.ctx.Err() != nil || ws.maxReconnect <= 0 {
			return
		}
		ws.setState(WSStateDisconnected)
	}
}

// serve publishes conn, reads until it fails and then retires it.
func (ws *WebSocket) serve(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.setState(WSStateConnected)

	ctx, cancel := context.WithCancel(ws.ctx)
	defer cancel()
	go ws.ping(ctx, conn)

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			break
		}
		for _, cb := range ws.messages.snapshot() {
			cb(&msg)
		}
	}

	ws.mu.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.mu.Unlock()
	conn.CloseNow()
}

func (ws *WebSocket) ping(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := conn.Ping(pctx)
		cancel()
		if err == nil {
			misses = 0
			continue
		}
		if misses++; misses >= maxPingMisses {
			_ = conn.Close(websocket.StatusGoingAway, "ping failure")
			return
		}
	}
}

func (ws *WebSocket) redial() *websocket.Conn {
	ws.setState(WSStateReconnecting)
	for attempt := 1; attempt <= ws.maxReconnect; attempt++ {
		t := time.NewTimer(ws.delayFor(attempt))
		select {
		case <-ws.ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		dctx, cancel := context.WithTimeout(ws.ctx, dialTimeout)
		conn, err := ws.dial(dctx)
		cancel()
		if err == nil {
			return conn
		}
	}
	return nil
}

func (ws *WebSocket) delayFor(attempt int) time.Duration {
	if ws.reconnectDelay > 0 {
		return ws.reconnectDelay * time.Duration(attempt)
	}
	return 100 * time.Millisecond << min(attempt-1, maxBackoffStep)
}

// WriteJSON sends one frame. Writes are serialized.
func (ws *WebSocket) WriteJSON(ctx context.Context, v any) error {
	ws.mu.RLock()
	conn, state := ws.conn, ws.state
	ws.mu.RUnlock()
	if conn == nil || state != WSStateConnected {
		return errNotConnected
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (ws *WebSocket) OnMessage(cb MessageCallback) int { return ws.messages.add(cb) }

func (ws *WebSocket) RemoveMessageCallback(id int) { ws.messages.remove(id) }

func (ws *WebSocket) OnStateChange(cb StateCallback) int { return ws.states.add(cb) }

func (ws *WebSocket) RemoveStateCallback(id int) { ws.states.remove(id) }

func (ws *WebSocket) setState(state WebSocketState) {
	ws.mu.Lock()
	changed := ws.state != state
	ws.state = state
	ws.mu.Unlock()
	if !changed {
		return
	}
	for _, cb := range ws.states.snapshot() {
		cb(state)
	}
}

// Close stops the supervisor and waits for it, bounded by ctx.
func (ws *WebSocket) Close(ctx context.Context) error {
	ws.closeOnce.Do(func() {
		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "close")
		}
		ws.cancel()
	})

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.setState(WSStateDisconnected)
		return nil
	}
}

// SetHeaderProvider allows injecting headers into the WS handshake.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) {
	ws.headers = h
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headers == nil {
		return hdr
	}
	for k, v := range ws.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			hdr.Set(k, v)
		}
	}
	return hdr
}

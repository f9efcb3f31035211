package irisfast

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, opts ...Option) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	opts = append([]Option{WithDialer(func(string) (net.Conn, error) { return ln.Dial() })}, opts...)
	return NewClient("http://iris.local/", opts...)
}

func TestClientReply(t *testing.T) {
	var (
		mu   sync.Mutex
		got  ReplyRequest
		path string
		hdr  string
	)
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		mu.Lock()
		defer mu.Unlock()
		path = string(ctx.Path())
		hdr = string(ctx.Request.Header.Peek("X-User-Id"))
		_ = json.Unmarshal(ctx.PostBody(), &got)
	}, WithHeaderProvider(func() map[string]string { return map[string]string{"X-User-Id": "bot", "X-Empty": " "} }))

	if err := c.SendImage(context.Background(), "room-1", "aGVsbG8="); err != nil {
		t.Fatalf("send image: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/reply" || hdr != "bot" {
		t.Fatalf("unexpected request path=%q header=%q", path, hdr)
	}
	if got.Type != "image" || got.Room != "room-1" || got.Data != "aGVsbG8=" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestClientRetriesTextOnly(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		}
	}, WithRetry(3))

	if err := c.SendMessage(context.Background(), "r", "hi"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}

	atomic.StoreInt32(&calls, 0)
	if err := c.SendImage(context.Background(), "r", "x"); err == nil {
		t.Fatalf("image should fail without retry")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("image should not retry, got %d calls", n)
	}
}

func TestClientRejectsClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("bad room")
	}, WithRetry(3))
	err := c.SendMessage(context.Background(), "r", "hi")
	if err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried")
	}
}

func TestMessageIdentity(t *testing.T) {
	name := "Alice"
	m := &Message{Msg: "!퍼즐", Room: "r", Sender: &name, JSON: &MessageJSON{UserID: "42"}}
	if m.UserID() != "42" || m.SenderName() != "Alice" {
		t.Fatalf("unexpected identity %q %q", m.UserID(), m.SenderName())
	}
	m.JSON = nil
	if m.UserID() != "Alice" {
		t.Fatalf("expected sender fallback, got %q", m.UserID())
	}
}

// irisServer accepts one websocket, pushes one chat message and collects replies.
func irisServer(t *testing.T, replies chan<- ReplyRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		sender := "Bob"
		if err := wsjson.Write(ctx, conn, Message{Msg: "!퍼즐 현황", Room: "room-9", Sender: &sender}); err != nil {
			return
		}
		for {
			var rep ReplyRequest
			if err := wsjson.Read(ctx, conn, &rep); err != nil {
				return
			}
			replies <- rep
		}
	}))
}

func TestWebSocketReceivesAndReplies(t *testing.T) {
	replies := make(chan ReplyRequest, 4)
	srv := irisServer(t, replies)
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), 0, 0)
	got := make(chan *Message, 1)
	ws.OnMessage(func(m *Message) { got <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = ws.Close(context.Background()) }()

	select {
	case m := <-got:
		if m.Room != "room-9" || m.SenderName() != "Bob" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}

	eg := NewEgress(EgressWS, false, nil, ws, nil)
	if err := eg.SendText(ctx, "room-9", "pong"); err != nil {
		t.Fatalf("ws send: %v", err)
	}
	select {
	case rep := <-replies:
		if rep.Type != "text" || rep.Data != "pong" {
			t.Fatalf("unexpected reply %+v", rep)
		}
	case <-ctx.Done():
		t.Fatalf("no reply received")
	}
}

func TestAutoEgressFallsBackToHTTP(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) { atomic.AddInt32(&calls, 1) })
	ws := NewWebSocket("ws://127.0.0.1:1/none", 0, 0)

	eg := NewEgress(EgressAuto, false, c, ws, nil)
	if err := eg.SendText(context.Background(), "r", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected http delivery")
	}

	if err := NewEgress(EgressWS, false, c, ws, nil).SendText(context.Background(), "r", "hi"); err == nil {
		t.Fatalf("ws egress should fail while disconnected")
	}
	if err := NewEgress(EgressWS, true, c, ws, nil).SendText(context.Background(), "r", "hi"); err != nil {
		t.Fatalf("dry run should succeed: %v", err)
	}
}

func TestReplyValidationAndStatusError(t *testing.T) {
	c := NewClient("http://iris.local")
	if err := c.SendMessage(context.Background(), " ", "hi"); err == nil {
		t.Fatalf("empty room should be rejected")
	}
	for status, temp := range map[int]bool{429: true, 502: true, 400: false, 404: false} {
		if got := (&StatusError{Status: status}).Temporary(); got != temp {
			t.Fatalf("status %d temporary=%v", status, got)
		}
	}
}

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newRemoteHarness(t *testing.T, handler fasthttp.RequestHandler, opts ...RemoteOption) *RemoteClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	opts = append([]RemoteOption{
		WithRemoteDialer(func(string) (net.Conn, error) { return ln.Dial() }),
		WithRemoteTimeout(2 * time.Second),
	}, opts...)
	return NewRemoteClient("http://analysis.local/v1", opts...)
}

func TestRemoteSuggest(t *testing.T) {
	var gotFEN string
	c := newRemoteHarness(t, func(ctx *fasthttp.RequestCtx) {
		var req remoteRequest
		_ = json.Unmarshal(ctx.PostBody(), &req)
		gotFEN = req.FEN
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"move":"a1a8","san":"Ra8#","eval":1.25,"depth":12,"text":"mate"}`)
	}, WithRemoteDepth(12))

	raw, err := c.Suggest(context.Background(), fenBackRank)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if gotFEN != fenBackRank {
		t.Fatalf("server saw fen %q", gotFEN)
	}
	if raw.Move != "a1a8" || raw.Depth != 12 || raw.EvalCP == nil || *raw.EvalCP != 125 {
		t.Fatalf("unexpected raw %+v", raw)
	}
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newRemoteHarness(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"move":"e2e4"}`)
	}, WithRemoteRetry(3))

	raw, err := c.Suggest(context.Background(), fenStart)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if raw.Move != "e2e4" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on third attempt, got %+v after %d calls", raw, calls)
	}
}

func TestRemoteUnavailableAfterRetries(t *testing.T) {
	c := newRemoteHarness(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	}, WithRemoteRetry(2))

	if _, err := c.Suggest(context.Background(), fenStart); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRemoteRejectedAndMissingMove(t *testing.T) {
	rejected := newRemoteHarness(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"error":"bad fen"}`)
	})
	if _, err := rejected.Suggest(context.Background(), "bad"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	empty := newRemoteHarness(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"type":"error","error":"no legal moves"}`)
	})
	if _, err := empty.Suggest(context.Background(), fenStalemate); !errors.Is(err, ErrNoMove) {
		t.Fatalf("expected ErrNoMove, got %v", err)
	}
}

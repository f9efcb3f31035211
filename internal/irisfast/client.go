package irisfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	ReplyText  = "text"
	ReplyImage = "image"

	replyPath      = "/reply"
	maxErrorBody   = 512
	maxBackoffStep = 5
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// StatusError is a non-2xx answer from Iris.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("iris reply: status=%d body=%s", e.Status, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	switch e.Status {
	case fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client posts bot replies to the Iris HTTP bridge.
type Client struct {
	endpoint string
	hc       *fasthttp.Client
	headers  HeaderProvider

	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.hc.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the total number of attempts for text replies.
func WithRetry(attempts int) Option {
	return func(c *Client) { c.attempts = max(attempts, 1) }
}

// WithDialer replaces the TCP dialer (tests use fasthttputil).
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.hc.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + replyPath,
		hc: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 64,
		},
		timeout:  10 * time.Second,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SendMessage(ctx context.Context, room, message string) error {
	return c.Reply(ctx, ReplyRequest{Type: ReplyText, Room: room, Data: message})
}

// SendImage posts a base64 PNG. Board images are only tried once.
func (c *Client) SendImage(ctx context.Context, room, imageBase64 string) error {
	return c.Reply(ctx, ReplyRequest{Type: ReplyImage, Room: room, Data: imageBase64})
}

// Reply posts one reply, retrying text on temporary failures.
func (c *Client) Reply(ctx context.Context, r ReplyRequest) error {
	if strings.TrimSpace(r.Room) == "" {
		return errors.New("iris reply: empty room")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("iris reply: encode: %w", err)
	}

	attempts := 1
	if r.Type == ReplyText {
		attempts = c.attempts
	}
	var lastErr error
	for n := 1; n <= attempts; n++ {
		lastErr = c.post(ctx, payload)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Temporary() {
			return lastErr
		}
		if n == attempts {
			break
		}
		if err := wait(ctx, c.backoffFor(n)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.endpoint)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	if err := c.hc.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("iris reply: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		body := string(resp.Body())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{Status: status, Body: body}
	}
	return nil
}

// deadline is the earlier of the context deadline and the client timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

func (c *Client) backoffFor(attempt int) time.Duration {
	step := min(max(attempt, 1), maxBackoffStep)
	return c.backoff << (step - 1)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

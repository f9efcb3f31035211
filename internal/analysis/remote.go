package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultRemoteURL = "https://chess-api.com/v1"

// RemoteClient asks an HTTP analysis service for the best move.
type RemoteClient struct {
	url      string
	http     *fasthttp.Client
	timeout  time.Duration
	retryMax int
	depth    int
	thinkMs  int
}

type RemoteOption func(*RemoteClient)

func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(c *RemoteClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRemoteRetry sets how many attempts are made on transport errors and 5xx.
func WithRemoteRetry(n int) RemoteOption {
	return func(c *RemoteClient) { c.retryMax = n }
}

func WithRemoteDepth(depth int) RemoteOption {
	return func(c *RemoteClient) { c.depth = depth }
}

func WithRemoteThinkingTime(ms int) RemoteOption {
	return func(c *RemoteClient) { c.thinkMs = ms }
}

// WithRemoteDialer replaces the TCP dialer; tests use an in-memory listener.
func WithRemoteDialer(dial func(addr string) (net.Conn, error)) RemoteOption {
	return func(c *RemoteClient) { c.http.Dial = dial }
}

func NewRemoteClient(url string, opts ...RemoteOption) *RemoteClient {
	if strings.TrimSpace(url) == "" {
		url = DefaultRemoteURL
	}
	c := &RemoteClient{
		url:      strings.TrimSpace(url),
		http:     &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 32},
		timeout:  10 * time.Second,
		retryMax: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RemoteClient) Name() string { return "remote" }

type remoteRequest struct {
	FEN             string `json:"fen"`
	Depth           int    `json:"depth,omitempty"`
	MaxThinkingTime int    `json:"maxThinkingTime,omitempty"`
}

type remoteResponse struct {
	Move  string   `json:"move"`
	SAN   string   `json:"san"`
	Eval  *float64 `json:"eval"`
	Mate  *int     `json:"mate"`
	Depth int      `json:"depth"`
	Text  string   `json:"text"`
	Type  string   `json:"type"`
	Error string   `json:"error"`
}

func (c *RemoteClient) Suggest(ctx context.Context, fen string) (Raw, error) {
	var out remoteResponse
	in := remoteRequest{FEN: fen, Depth: c.depth, MaxThinkingTime: c.thinkMs}
	if err := c.doJSON(ctx, in, &out); err != nil {
		return Raw{}, err
	}
	if out.Type == "error" || strings.TrimSpace(out.Move) == "" {
		detail := out.Error
		if detail == "" {
			detail = out.Text
		}
		return Raw{}, fmt.Errorf("%w: %s", ErrNoMove, truncate(detail, 200))
	}

	raw := Raw{Move: strings.TrimSpace(out.Move), Depth: out.Depth, Mate: out.Mate}
	if out.Eval != nil {
		cp := int(math.Round(*out.Eval * 100))
		raw.EvalCP = &cp
	}
	return raw, nil
}

func (c *RemoteClient) doJSON(ctx context.Context, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%w: request failed: %w", ErrUnavailable, err)
		} else {
			status := resp.StatusCode()
			switch {
			case status >= 200 && status < 300:
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("%w: decode response: %v", ErrNoMove, err)
				}
				return nil
			case shouldRetryStatus(status):
				lastErr = fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, status, truncate(string(resp.Body()), 512))
			default:
				return fmt.Errorf("%w: status=%d body=%s", ErrRejected, status, truncate(string(resp.Body()), 512))
			}
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *RemoteClient) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

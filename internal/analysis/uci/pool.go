// Package uci runs a bounded set of local UCI engine processes.
package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
}

// Pool bounds the number of live engine processes and reuses idle ones.
// A search abandoned by its context kills its process.
type Pool struct {
	start func() (searcher, error)
	slots chan struct{}
	idle  chan searcher

	mu     sync.Mutex
	closed bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, errors.New("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	opt := cfg.Options.withDefaults()
	return newPool(cfg.Capacity, func() (searcher, error) {
		return startProcess(cfg.BinaryPath, opt)
	}), nil
}

func newPool(capacity int, start func() (searcher, error)) *Pool {
	if capacity <= 0 {
		capacity = min(max(runtime.NumCPU(), 2), 4)
	}
	return &Pool{
		start: start,
		slots: make(chan struct{}, capacity),
		idle:  make(chan searcher, capacity),
	}
}

// Search runs one depth-limited search on a pooled engine.
func (p *Pool) Search(ctx context.Context, fen string, depth int) (Result, error) {
	s, err := p.acquire(ctx)
	if err != nil {
		return Result{}, err
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.search(fen, depth)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && !errors.Is(out.err, ErrNoBestMove) {
			p.discard(s)
		} else {
			p.release(s)
		}
		return out.res, out.err
	case <-ctx.Done():
		// the search goroutine returns once the process is gone
		p.discard(s)
		return Result{}, ctx.Err()
	}
}

func (p *Pool) acquire(ctx context.Context) (searcher, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case s := <-p.idle:
		return s, nil
	default:
	}
	s, err := p.start()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return s, nil
}

func (p *Pool) release(s searcher) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(s)
		return
	}
	// live engines never exceed the slot count, so this cannot block
	p.idle <- s
	p.mu.Unlock()
	<-p.slots
}

func (p *Pool) discard(s searcher) {
	s.close()
	<-p.slots
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops idle engines. Engines still searching stop when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case s := <-p.idle:
			s.close()
		default:
			return nil
		}
	}
}

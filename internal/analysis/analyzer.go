// Package analysis finds the best move for a position. Providers are tried in
// order; a local heuristic covers the case where none of them is reachable.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-puzzle/internal/rules"
)

var (
	// ErrAnalysisFailed wraps every failure BestMove returns.
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrUnavailable       = errors.New("analysis provider unavailable")
	ErrRejected          = errors.New("analysis request rejected")
	ErrNoMove            = errors.New("analysis returned no move")
	ErrIllegalSuggestion = errors.New("analysis suggested an illegal move")
)

// Raw is a provider's answer before it is checked against the rules.
type Raw struct {
	Move   string
	EvalCP *int
	Mate   *int
	Depth  int
}

type Provider interface {
	Name() string
	Suggest(ctx context.Context, fen string) (Raw, error)
}

type Suggestion struct {
	Move      rules.Move `json:"move"`
	SAN       string     `json:"san"`
	Rationale Rationale  `json:"rationale"`
	Provider  string     `json:"provider"`
	EvalCP    *int       `json:"eval_cp,omitempty"`
	Mate      *int       `json:"mate,omitempty"`
	Depth     int        `json:"depth,omitempty"`
}

type Analyzer struct {
	rules     *rules.Engine
	providers []Provider
	fallback  Provider
	logger    *zap.Logger
}

type Option func(*Analyzer)

func WithProvider(p Provider) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.providers = append(a.providers, p)
		}
	}
}

// WithFallback sets the provider used when every other one is unavailable.
func WithFallback(p Provider) Option {
	return func(a *Analyzer) { a.fallback = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAnalyzer(r *rules.Engine, opts ...Option) *Analyzer {
	a := &Analyzer{rules: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BestMove returns a legal move for fen. A provider answer that is missing or
// illegal fails the call; it is never replaced by another provider's move.
func (a *Analyzer) BestMove(ctx context.Context, fen string) (Suggestion, error) {
	started := time.Now()
	var causes []error

	for _, p := range a.providers {
		raw, err := p.Suggest(ctx, fen)
		if err == nil {
			return a.finish(fen, raw, p.Name(), started)
		}
		if !errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			a.logger.Warn("analysis_request_failed", zap.String("provider", p.Name()), zap.String("fen", fen), zap.Error(err))
			return Suggestion{}, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, p.Name(), err)
		}
		a.logger.Info("analysis_provider_unavailable", zap.String("provider", p.Name()), zap.Error(err))
		causes = append(causes, err)
	}

	if a.fallback != nil {
		raw, err := a.fallback.Suggest(ctx, fen)
		if err != nil {
			return Suggestion{}, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, a.fallback.Name(), err)
		}
		return a.finish(fen, raw, a.fallback.Name(), started)
	}

	if len(causes) == 0 {
		return Suggestion{}, fmt.Errorf("%w: %w: no providers configured", ErrAnalysisFailed, ErrUnavailable)
	}
	return Suggestion{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, errors.Join(causes...))
}

func (a *Analyzer) finish(fen string, raw Raw, provider string, started time.Time) (Suggestion, error) {
	if raw.Move == "" {
		return Suggestion{}, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, provider, ErrNoMove)
	}
	mv, err := a.rules.Normalize(fen, raw.Move)
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: %s: %w: %q: %v", ErrAnalysisFailed, provider, ErrIllegalSuggestion, raw.Move, err)
	}
	san, err := a.rules.SAN(fen, mv)
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, provider, err)
	}
	why, err := Explain(a.rules, fen, mv)
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: explain: %w", ErrAnalysisFailed, err)
	}

	a.logger.Debug("analysis_resolved",
		zap.String("provider", provider),
		zap.String("move", mv.String()),
		zap.String("san", san),
		zap.Duration("elapsed", time.Since(started)),
	)
	return Suggestion{
		Move:      mv,
		SAN:       san,
		Rationale: why,
		Provider:  provider,
		EvalCP:    raw.EvalCP,
		Mate:      raw.Mate,
		Depth:     raw.Depth,
	}, nil
}

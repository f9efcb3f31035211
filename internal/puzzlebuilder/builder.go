package puzzlebuilder

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/cheese-puzzle/internal/analysis"
	"github.com/park285/cheese-puzzle/internal/analysis/uci"
	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/config"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/rules"
	"github.com/park285/cheese-puzzle/internal/service/cache"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
)

type Deps struct {
	Service   *svcpuzzle.Service
	Cache     *cache.CacheService
	Repo      svcpuzzle.Repository
	Messages  *msgcat.Catalog
	Stockfish *analysis.StockfishProvider
	DB        *sql.DB
}

// Close releases everything New opened. The service is closed first so no
// analysis goroutine outlives the engine pool.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Service != nil {
		d.Service.Close()
	}
	if d.Stockfish != nil {
		_ = d.Stockfish.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Cache != nil {
		_ = d.Cache.Close()
	}
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Deps{}

	// Cache (Redis required: sessions live there)
	cconf, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	deps.Cache, err = cache.NewCacheService(*cconf, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	// Repository (postgres optional)
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("puzzle_repository_memory", zap.String("reason", "DATABASE_URL not set"))
		deps.Repo = svcpuzzle.NewMemoryRepository()
	} else {
		db, err := openPostgres(cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.DB = db
		deps.Repo = svcpuzzle.NewRepository(db)
	}

	messages, err := msgcat.New(cfg.PuzzleLocale, cfg.PuzzleMessagesDir)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	deps.Messages = messages

	lessons, err := catalog.Load(cfg.PuzzleLessonsFile)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("load lessons: %w", err)
	}

	engine := rules.New()
	analyzer, stockfish, err := BuildAnalyzer(cfg, engine, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Stockfish = stockfish

	svcCfg := svcpuzzle.Config{
		Policy: corepuzzle.Policy{
			CounterDelay:     time.Duration(cfg.PuzzleCounterDelayMS) * time.Millisecond,
			AdvanceDelay:     time.Duration(cfg.PuzzleAdvanceDelayMS) * time.Millisecond,
			MovesPerPosition: cfg.PuzzleMovesPerPosition,
		},
		AnalysisTimeout: time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
		SessionTTL:      time.Duration(cfg.PuzzleSessionTTLSec) * time.Second,
		HistoryLimit:    cfg.PuzzleHistoryLimit,
		AllowedRooms:    append([]string(nil), cfg.AllowedRooms...),
	}

	service, err := svcpuzzle.NewService(svcpuzzle.Deps{
		Rules:    engine,
		Analyzer: analyzer,
		Store:    svcpuzzle.NewStore(deps.Cache, svcCfg.SessionTTL),
		Repo:     deps.Repo,
		Renderer: svcpuzzle.NewPNGBoardRenderer(),
		Lessons:  lessons,
		Messages: messages,
	}, svcCfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Service = service
	return deps, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// basic pool settings
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// BuildAnalyzer orders providers as remote, then local engine. The heuristic
// is only installed as fallback when ANALYSIS_FALLBACK allows it. The
// returned StockfishProvider, if any, must be closed by the caller.
func BuildAnalyzer(cfg *config.AppConfig, engine *rules.Engine, logger *zap.Logger) (*analysis.Analyzer, *analysis.StockfishProvider, error) {
	opts := []analysis.Option{analysis.WithLogger(logger)}

	if u := strings.TrimSpace(cfg.AnalysisAPIURL); u != "" {
		remoteOpts := []analysis.RemoteOption{
			analysis.WithRemoteTimeout(time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond),
			analysis.WithRemoteRetry(cfg.AnalysisRetry),
		}
		if cfg.AnalysisAPIDepth > 0 {
			remoteOpts = append(remoteOpts, analysis.WithRemoteDepth(cfg.AnalysisAPIDepth))
		}
		opts = append(opts, analysis.WithProvider(analysis.NewRemoteClient(u, remoteOpts...)))
	}

	var stockfish *analysis.StockfishProvider
	if p := strings.TrimSpace(cfg.StockfishPath); p != "" {
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath: p,
			Options:    uci.Options{Threads: cfg.StockfishThreads, HashMB: cfg.StockfishHashMB},
			Capacity:   cfg.StockfishPoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init stockfish pool: %w", err)
		}
		stockfish = analysis.NewStockfishProvider(pool, cfg.StockfishDepth)
		opts = append(opts, analysis.WithProvider(stockfish))
	}

	if cfg.AnalysisFallback {
		opts = append(opts, analysis.WithFallback(analysis.NewHeuristic(engine)))
	}
	return analysis.NewAnalyzer(engine, opts...), stockfish, nil
}

func parseRedisURL(raw string) (*cache.CacheConfig, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}
	portStr := u.Port()
	if portStr == "" {
		portStr = "6379"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &cache.CacheConfig{Host: host, Port: port, Password: pass, DB: db}, nil
}

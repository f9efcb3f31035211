package puzzle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-puzzle/internal/analysis"
	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/domain"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/rules"
)

var (
	ErrSessionNotFound = errors.New("puzzle session not found")
	ErrSessionBusy     = errors.New("puzzle session busy")
	ErrIllegalMove     = errors.New("invalid chess move")
	ErrRoomNotAllowed  = errors.New("puzzle room not allowed")
	ErrServiceClosed   = errors.New("puzzle service closed")
)

const dispatchTimeout = 5 * time.Second

// Analyzer produces the expected move for a position.
type Analyzer interface {
	BestMove(ctx context.Context, fen string) (analysis.Suggestion, error)
}

// SourceWeb marks sessions opened over the HTTP API.
const SourceWeb = "web"

// SessionMeta identifies who opened a session. Source names the transport
// ("web", "kakao") so push hooks can pick their own sessions.
type SessionMeta struct {
	Source     string
	Room       string
	Sender     string
	PlayerName string
}

type Config struct {
	Policy          corepuzzle.Policy
	AnalysisTimeout time.Duration
	SessionTTL      time.Duration
	HistoryLimit    int
	AllowedRooms    []string
}

type Service struct {
	rules        *rules.Engine
	machine      *corepuzzle.Machine
	analyzer     Analyzer
	store        *Store
	repo         Repository
	renderer     BoardRenderer
	lessons      *catalog.Catalog
	feedback     feedbackRenderer
	hub          *Hub
	cfg          Config
	allowedRooms map[string]struct{}
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Deps struct {
	Rules    *rules.Engine
	Analyzer Analyzer
	Store    *Store
	Repo     Repository
	Renderer BoardRenderer
	Lessons  *catalog.Catalog
	Messages *msgcat.Catalog
	Hub      *Hub
}

func NewService(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("puzzle service: rules engine is required")
	case deps.Analyzer == nil:
		return nil, errors.New("puzzle service: analyzer is required")
	case deps.Store == nil:
		return nil, errors.New("puzzle service: store is required")
	case deps.Messages == nil:
		return nil, errors.New("puzzle service: message catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Repo == nil {
		deps.Repo = NewMemoryRepository()
	}
	if deps.Renderer == nil {
		deps.Renderer = NewPNGBoardRenderer()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedRooms))
	for _, room := range cfg.AllowedRooms {
		if r := strings.TrimSpace(room); r != "" {
			allowed[r] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		rules:        deps.Rules,
		machine:      corepuzzle.NewMachine(deps.Rules, cfg.Policy),
		analyzer:     deps.Analyzer,
		store:        deps.Store,
		repo:         deps.Repo,
		renderer:     deps.Renderer,
		lessons:      deps.Lessons,
		feedback:     feedbackRenderer{messages: deps.Messages, logger: logger},
		hub:          deps.Hub,
		cfg:          cfg,
		allowedRooms: allowed,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) Lessons() *catalog.Catalog { return s.lessons }

// Start opens a session on an already parsed set.
func (s *Service) Start(ctx context.Context, meta SessionMeta, parsed corepuzzle.ParseResult) (*Update, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	for _, d := range parsed.Discards {
		s.logger.Info("puzzle_position_discarded",
			zap.Int("line", d.Line),
			zap.String("reason", d.Reason),
		)
	}

	state, effects := s.machine.Start(parsed.Set)
	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		Source:     strings.TrimSpace(meta.Source),
		Room:       strings.TrimSpace(meta.Room),
		PlayerName: strings.TrimSpace(meta.PlayerName),
		State:      state,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if strings.TrimSpace(meta.Sender) != "" {
		sess.RoomHash = hashValue(meta.Room)
		sess.PlayerHash = hashValue(meta.Sender)
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("puzzle_session_start",
		zap.String("session_id", sess.ID),
		zap.String("label", parsed.Set.Label()),
		zap.Int("positions", parsed.Set.Len()),
		zap.Int("discarded", len(parsed.Discards)),
	)
	return s.apply(sess, effects, false), nil
}

// StartFromText parses free-form input (newline or comma separated FENs).
func (s *Service) StartFromText(ctx context.Context, meta SessionMeta, input, title, level string) (*Update, error) {
	parsed, err := corepuzzle.ParsePositionSet(input)
	if err != nil {
		return nil, err
	}
	parsed.Set.Title = strings.TrimSpace(title)
	parsed.Set.Level = strings.TrimSpace(level)
	return s.Start(ctx, meta, parsed)
}

// StartFromQuery is the URL entry point (fens, fen, title, level).
func (s *Service) StartFromQuery(ctx context.Context, meta SessionMeta, values url.Values) (*Update, error) {
	parsed, err := corepuzzle.ParseQuery(values)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, meta, parsed)
}

func (s *Service) StartFromLesson(ctx context.Context, meta SessionMeta, number int, level string) (*Update, error) {
	if s.lessons == nil {
		return nil, fmt.Errorf("%w: %d", catalog.ErrLessonNotFound, number)
	}
	lvl, err := catalog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	parsed, err := s.lessons.PositionSet(number, lvl)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, meta, parsed)
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// Active returns the chat player's current session.
func (s *Service) Active(ctx context.Context, meta SessionMeta) (*Session, error) {
	if strings.TrimSpace(meta.Sender) == "" {
		return nil, ErrSessionNotFound
	}
	return s.store.ActiveFor(ctx, hashValue(meta.Room), hashValue(meta.Sender))
}

// Submit normalizes SAN or UCI input against the committed board and feeds
// it to the reducer. Input that is not a legal move returns ErrIllegalMove
// together with the update carrying the notice.
func (s *Service) Submit(ctx context.Context, id, input string) (*Update, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mv, nerr := s.rules.Normalize(sess.State.Board, input)
	if nerr != nil {
		// still routed through the reducer so stage-specific notices win
		mv, _ = rules.ParseUCI(input)
	}
	up, err := s.dispatch(ctx, id, corepuzzle.Submit{Move: mv}, false)
	if err != nil {
		return nil, err
	}
	for _, fb := range up.Feedback {
		if fb.Kind == string(corepuzzle.NoticeIllegalMove) {
			return up, fmt.Errorf("%w: %q", ErrIllegalMove, strings.TrimSpace(input))
		}
	}
	return up, nil
}

func (s *Service) Confirm(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Confirm{}, false)
}

func (s *Service) Cancel(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Cancel{}, false)
}

func (s *Service) Hint(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Hint{}, false)
}

func (s *Service) Next(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Next{}, false)
}

func (s *Service) Previous(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Previous{}, false)
}

func (s *Service) Reset(ctx context.Context, id string) (*Update, error) {
	return s.dispatch(ctx, id, corepuzzle.Reset{}, false)
}

// End drops the session from the store.
func (s *Service) End(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, sess)
}

type BoardOptions struct {
	Hint bool
	// Orientation is "auto" (user side), "white" or "black".
	Orientation string
}

func (s *Service) BoardPNG(ctx context.Context, id string, opts BoardOptions) ([]byte, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RenderBoard(ctx, sess, opts)
}

// RenderBoard draws a session snapshot without reloading it from the store.
func (s *Service) RenderBoard(ctx context.Context, sess *Session, opts BoardOptions) ([]byte, error) {
	st := sess.State
	board, err := s.rules.Board(st.Board)
	if err != nil {
		return nil, err
	}
	ro := RenderOptions{Header: headerFor(st)}
	switch strings.ToLower(strings.TrimSpace(opts.Orientation)) {
	case "black":
		ro.Flip = true
	case "white":
	default:
		ro.Flip = st.UserSide == rules.Black
	}
	if n := len(st.Line); n > 0 {
		last := st.Line[n-1].Move
		ro.LastMove = &last
	}
	if opts.Hint && st.Hint != nil {
		h := *st.Hint
		ro.Hint = &h
	}
	if !st.Complete() && st.UserSide != "" {
		ro.Turn = s.feedback.sideLabel(st.UserSide)
	}
	return s.renderer.RenderPNG(ctx, board, ro)
}

func headerFor(st corepuzzle.State) string {
	progress := fmt.Sprintf("%d/%d", min(st.Cursor.Index+1, st.Total()), st.Total())
	if label := st.Set.Label(); label != "" {
		return label + " - " + progress
	}
	return progress
}

// PGN exports the line played so far on the current position.
func (s *Service) PGN(ctx context.Context, id string) (string, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	pos, ok := sess.State.Current()
	if !ok {
		return "", fmt.Errorf("%w: no current position", ErrSessionNotFound)
	}
	return s.linePGN(sess, pos, sess.State.Line, "*")
}

func (s *Service) linePGN(sess *Session, pos corepuzzle.Position, line []corepuzzle.Ply, result string) (string, error) {
	moves := make([]rules.Move, 0, len(line))
	for _, p := range line {
		moves = append(moves, p.Move)
	}
	tags := map[string]string{
		"Event":  sess.State.Set.Label(),
		"Site":   "cheese-puzzle",
		"Date":   sess.CreatedAt.Format("2006.01.02"),
		"Result": result,
	}
	if tags["Event"] == "" {
		tags["Event"] = "Puzzle"
	}
	return s.rules.PGN(pos.FEN, moves, tags)
}

func (s *Service) History(ctx context.Context, meta SessionMeta, limit int) ([]*domain.PuzzleAttempt, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit*5 {
		limit = s.cfg.HistoryLimit
	}
	return s.repo.GetRecentAttempts(ctx, hashValue(meta.Sender), limit)
}

func (s *Service) Profile(ctx context.Context, meta SessionMeta) (*domain.PuzzleProfile, error) {
	return s.repo.GetProfile(ctx, hashValue(meta.Sender), hashValue(meta.Room))
}

// Wait blocks until every scheduled analysis has been dispatched.
func (s *Service) Wait() { s.wg.Wait() }

// Close stops scheduling analysis and waits for in-flight work.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) dispatch(ctx context.Context, id string, ev corepuzzle.Event, async bool) (*Update, error) {
	var effects []corepuzzle.Effect
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		next, eff := s.machine.Reduce(sess.State, ev)
		sess.State = next
		sess.UpdatedAt = time.Now().UTC()
		effects = eff
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.apply(sess, effects, async), nil
}

// apply carries out reducer effects after the state has been committed.
func (s *Service) apply(sess *Session, effects []corepuzzle.Effect, async bool) *Update {
	up := &Update{Session: sess, Async: async}
	for _, eff := range effects {
		switch e := eff.(type) {
		case corepuzzle.RequestAnalysis:
			s.schedule(sess.ID, e)
		case corepuzzle.Notice:
			up.Feedback = append(up.Feedback, s.feedback.render(e))
		case corepuzzle.PositionFinished:
			s.recordPosition(sess, e)
		case corepuzzle.SessionFinished:
			s.recordSession(sess, e)
		case corepuzzle.StaleDiscarded:
			s.logger.Debug("analysis_result_stale",
				zap.String("session_id", sess.ID),
				zap.Uint64("seq", e.Seq),
			)
		}
	}
	s.hub.Publish(*up)
	return up
}

// schedule runs one analysis request on its own goroutine and feeds the
// outcome back through the reducer.
func (s *Service) schedule(id string, req corepuzzle.RequestAnalysis) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if req.Delay > 0 {
			timer := time.NewTimer(req.Delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		actx, cancel := context.WithTimeout(s.ctx, s.cfg.AnalysisTimeout)
		started := time.Now()
		sug, err := s.analyzer.BestMove(actx, req.FEN)
		cancel()
		if s.ctx.Err() != nil {
			return
		}

		var ev corepuzzle.Event
		if err != nil {
			s.logger.Warn("analysis_request_failed",
				zap.String("session_id", id),
				zap.Uint64("seq", req.Seq),
				zap.String("kind", string(req.Kind)),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
			ev = corepuzzle.AnalysisFailed{Seq: req.Seq, Index: req.Index, Reason: err.Error()}
		} else {
			ev = corepuzzle.AnalysisResolved{
				Seq:   req.Seq,
				Index: req.Index,
				Expected: corepuzzle.ExpectedMove{
					Move:      sug.Move,
					SAN:       sug.SAN,
					Rationale: sug.Rationale.Text,
					Tags:      sug.Rationale.Tags,
					Provider:  sug.Provider,
				},
			}
		}

		dctx, dcancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer dcancel()
		if _, err := s.dispatch(dctx, id, ev, true); err != nil {
			s.logger.Warn("analysis_dispatch_failed",
				zap.String("session_id", id),
				zap.Uint64("seq", req.Seq),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) recordPosition(sess *Session, e corepuzzle.PositionFinished) {
	ctx, cancel := context.WithTimeout(s.ctx, dispatchTimeout)
	defer cancel()

	attempt := &domain.PuzzleAttempt{
		SessionUUID: sess.ID,
		PlayerHash:  sess.PlayerHash,
		RoomHash:    sess.RoomHash,
		SetTitle:    sess.State.Set.Title,
		SetLevel:    sess.State.Set.Level,
		Index:       e.Index,
		FEN:         e.Position.FEN,
		Result:      string(e.Result),
		MovesPlayed: e.MovesPlayed,
		HintUsed:    e.HintUsed,
		Deviated:    e.Deviated,
		EndedAt:     time.Now().UTC(),
	}
	for _, p := range e.Line {
		attempt.MovesUCI = append(attempt.MovesUCI, p.Move.String())
		attempt.MovesSAN = append(attempt.MovesSAN, p.SAN)
	}
	if pgn, err := s.linePGN(sess, e.Position, e.Line, pgnResult(e.Result, e.Line)); err == nil {
		attempt.PGN = pgn
	} else {
		s.logger.Warn("puzzle_pgn_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if _, err := s.repo.InsertAttempt(ctx, attempt); err != nil && !errors.Is(err, ErrDuplicateAttempt) {
		s.logger.Warn("puzzle_attempt_persist_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}

	s.logger.Info("puzzle_position_finished",
		zap.String("session_id", sess.ID),
		zap.Int("index", e.Index),
		zap.String("result", string(e.Result)),
		zap.Int("moves", e.MovesPlayed),
	)

	if sess.PlayerHash == "" || e.Replay {
		return
	}
	s.updateProfile(ctx, sess, func(p *domain.PuzzleProfile) {
		p.PositionsPlayed++
		if e.HintUsed {
			p.HintsUsed++
		}
		switch e.Result {
		case corepuzzle.ResultWon, corepuzzle.ResultSolved, corepuzzle.ResultCompleted:
			p.PositionsSolved++
			p.Streak++
			p.BestStreak = max(p.BestStreak, p.Streak)
		case corepuzzle.ResultSkipped:
			p.PositionsSkipped++
			p.Streak = 0
		case corepuzzle.ResultAborted:
		default:
			p.PositionsFailed++
			p.Streak = 0
		}
	})
}

func (s *Service) recordSession(sess *Session, e corepuzzle.SessionFinished) {
	s.logger.Info("puzzle_session_complete",
		zap.String("session_id", sess.ID),
		zap.Int("positions", e.Total),
		zap.Int("moves_accepted", e.Stats.MovesAccepted),
		zap.Int("first_move_misses", e.Stats.FirstMoveMisses),
		zap.Int("hints", e.Stats.HintsUsed),
	)
	if sess.PlayerHash == "" || e.Again {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, dispatchTimeout)
	defer cancel()
	s.updateProfile(ctx, sess, func(p *domain.PuzzleProfile) {
		p.SessionsFinished++
	})
}

func (s *Service) updateProfile(ctx context.Context, sess *Session, fn func(*domain.PuzzleProfile)) {
	p, err := s.repo.GetProfile(ctx, sess.PlayerHash, sess.RoomHash)
	if err != nil {
		s.logger.Warn("puzzle_profile_load_failed", zap.Error(err))
		return
	}
	if p == nil {
		p = &domain.PuzzleProfile{PlayerHash: sess.PlayerHash, RoomHash: sess.RoomHash}
	}
	fn(p)
	p.LastLevel = sess.State.Set.Level
	p.LastPlayedAt = time.Now().UTC()
	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		s.logger.Warn("puzzle_profile_persist_failed", zap.Error(err))
	}
}

func pgnResult(r corepuzzle.Result, line []corepuzzle.Ply) string {
	switch r {
	case corepuzzle.ResultDraw, corepuzzle.ResultStalemate:
		return "1/2-1/2"
	case corepuzzle.ResultWon, corepuzzle.ResultLost:
		if n := len(line); n > 0 {
			if line[n-1].Side == rules.White {
				return "1-0"
			}
			return "0-1"
		}
	}
	return "*"
}

// ensureRoomAllowed applies ALLOWED_ROOMS to chat rooms only.
func (s *Service) ensureRoomAllowed(meta SessionMeta) error {
	if len(s.allowedRooms) == 0 || strings.TrimSpace(meta.Room) == "" || meta.Source == SourceWeb {
		return nil
	}
	if _, ok := s.allowedRooms[strings.TrimSpace(meta.Room)]; ok {
		return nil
	}
	s.logger.Info("puzzle room access denied", zap.String("room", meta.Room))
	return ErrRoomNotAllowed
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

package puzzle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/service/cache"
)

const (
	sessionKeyPrefix = "puzzle:sessions:"
	playerKeyPrefix  = "puzzle:players:"
	maxWatchRetries  = 8
)

// Session is what the store keeps per session id.
type Session struct {
	ID         string           `json:"id"`
	Source     string           `json:"source,omitempty"`
	Room       string           `json:"room,omitempty"`
	RoomHash   string           `json:"room_hash,omitempty"`
	PlayerHash string           `json:"player_hash,omitempty"`
	PlayerName string           `json:"player_name,omitempty"`
	State      corepuzzle.State `json:"state"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// playerBinding points a chat player at their active session.
type playerBinding struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps sessions in Redis. Every mutation goes through Update, which
// runs under WATCH so concurrent writers on one session serialize.
type Store struct {
	cache *cache.CacheService
	ttl   time.Duration
}

func NewStore(c *cache.CacheService, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{cache: c, ttl: ttl}
}

func sessionKey(id string) string { return sessionKeyPrefix + strings.TrimSpace(id) }

func playerKey(roomHash, playerHash string) string {
	return playerKeyPrefix + strings.TrimSpace(roomHash) + ":" + strings.TrimSpace(playerHash)
}

func (s *Store) Create(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.cache.Client().SetNX(ctx, sessionKey(sess.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("create session %s: %w", sess.ID, ErrSessionBusy)
	}
	if sess.PlayerHash != "" {
		bind := playerBinding{SessionID: sess.ID, CreatedAt: sess.CreatedAt}
		if err := s.cache.Set(ctx, playerKey(sess.RoomHash, sess.PlayerHash), bind, s.ttl); err != nil {
			return fmt.Errorf("bind player: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.cache.Get(ctx, sessionKey(id), &sess); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Update loads the session, applies fn and writes it back atomically.
// A concurrent write restarts the cycle; ErrSessionBusy after maxWatchRetries.
func (s *Store) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := sessionKey(id)
	var out *Session
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := fn(&sess); err != nil {
			return err
		}
		sess.Version++
		next, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			if sess.PlayerHash != "" {
				pipe.Expire(ctx, playerKey(sess.RoomHash, sess.PlayerHash), s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &sess
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.cache.Client().Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("update session %s: %w", id, ErrSessionBusy)
}

// ActiveFor returns the session bound to a chat player, if any.
func (s *Store) ActiveFor(ctx context.Context, roomHash, playerHash string) (*Session, error) {
	var bind playerBinding
	if err := s.cache.Get(ctx, playerKey(roomHash, playerHash), &bind); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup player session: %w", err)
	}
	return s.Get(ctx, bind.SessionID)
}

func (s *Store) Delete(ctx context.Context, sess *Session) error {
	keys := []string{sessionKey(sess.ID)}
	if sess.PlayerHash != "" {
		keys = append(keys, playerKey(sess.RoomHash, sess.PlayerHash))
	}
	return s.cache.Del(ctx, keys...)
}

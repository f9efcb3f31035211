package puzzle

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-puzzle/internal/domain"
)

// memrepo is used when no DATABASE_URL is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	attemptsByUser  map[string][]*domain.PuzzleAttempt // playerHash -> attempts, latest last
	attemptsByIndex map[string]struct{}                // session|index|ended

	profiles map[string]*domain.PuzzleProfile // playerHash|roomHash -> profile
}

func NewMemoryRepository() Repository {
	return &memrepo{
		attemptsByUser:  make(map[string][]*domain.PuzzleAttempt),
		attemptsByIndex: make(map[string]struct{}),
		profiles:        make(map[string]*domain.PuzzleProfile),
	}
}

func (m *memrepo) InsertAttempt(ctx context.Context, a *domain.PuzzleAttempt) (int64, error) {
	if a == nil {
		return 0, ErrDuplicateAttempt
	}
	key := strings.TrimSpace(a.SessionUUID) + "|" + strconv.Itoa(a.Index) + "|" + a.EndedAt.UTC().Format(time.RFC3339Nano)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.attemptsByIndex[key]; exists {
		return 0, ErrDuplicateAttempt
	}
	m.nextID++
	cp := *a
	cp.ID = m.nextID
	m.attemptsByIndex[key] = struct{}{}
	m.attemptsByUser[a.PlayerHash] = append(m.attemptsByUser[a.PlayerHash], &cp)
	return cp.ID, nil
}

func (m *memrepo) GetRecentAttempts(ctx context.Context, playerHash string, limit int) ([]*domain.PuzzleAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.attemptsByUser[playerHash]
	items := make([]*domain.PuzzleAttempt, 0, len(list))
	for _, a := range list {
		cp := *a
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetProfile(ctx context.Context, playerHash string, roomHash string) (*domain.PuzzleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[profileKey(playerHash, roomHash)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memrepo) UpsertProfile(ctx context.Context, p *domain.PuzzleProfile) error {
	if p == nil {
		return nil
	}
	cp := *p
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	key := profileKey(p.PlayerHash, p.RoomHash)
	if prev, ok := m.profiles[key]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.profiles[key] = &cp
	return nil
}

func profileKey(playerHash, roomHash string) string {
	return strings.TrimSpace(playerHash) + "|" + strings.TrimSpace(roomHash)
}

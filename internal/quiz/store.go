package quiz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/quizmaker/internal/apperr"
)

// Store persists attempts. Completed attempts are immutable: Update on one
// fails with KindInvalidTransition. Update and Get of a missing id fail with
// KindNotFound.
type Store interface {
	Insert(ctx context.Context, a Attempt) (string, error)
	Update(ctx context.Context, id string, a Attempt) error
	ListByOwner(ctx context.Context, owner string) ([]Summary, error)
	Get(ctx context.Context, id string) (Attempt, error)
}

func newAttemptID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

type memEntry struct {
	a   Attempt
	seq int
}

type memoryStore struct {
	mu       sync.RWMutex
	attempts map[string]memEntry
	seq      int
	now      func() time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{attempts: map[string]memEntry{}, now: time.Now}
}

func (m *memoryStore) Insert(_ context.Context, a Attempt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = newAttemptID()
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.seq++
	m.attempts[a.ID] = memEntry{a: clone(a), seq: m.seq}
	return a.ID, nil
}

func (m *memoryStore) Update(_ context.Context, id string, a Attempt) error {
	const op = "store.update"
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.attempts[id]
	if !ok || e.a.Owner != a.Owner {
		return apperr.E(apperr.KindNotFound, op, nil)
	}
	if e.a.Completed {
		return apperr.Errorf(apperr.KindInvalidTransition, op, "attempt %s is completed", id)
	}
	a.ID = id
	a.CreatedAt = e.a.CreatedAt
	a.UpdatedAt = m.now()
	e.a = clone(a)
	m.attempts[id] = e
	return nil
}

func (m *memoryStore) ListByOwner(_ context.Context, owner string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var es []memEntry
	for _, e := range m.attempts {
		if e.a.Owner == owner {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if !es[i].a.CreatedAt.Equal(es[j].a.CreatedAt) {
			return es[i].a.CreatedAt.After(es[j].a.CreatedAt)
		}
		return es[i].seq > es[j].seq
	})
	out := make([]Summary, len(es))
	for i, e := range es {
		out[i] = e.a.Summary()
	}
	return out, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.attempts[id]
	if !ok {
		return Attempt{}, apperr.E(apperr.KindNotFound, "store.get", nil)
	}
	return clone(e.a), nil
}

func clone(a Attempt) Attempt {
	a.Questions = append([]Question(nil), a.Questions...)
	a.Answers = append(a.Answers[:0:0], a.Answers...)
	return a
}

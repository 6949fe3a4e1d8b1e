package quiz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/entitlement"
)

// Document is an uploaded source file.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// Generator turns a document into exactly n questions.
type Generator interface {
	Generate(ctx context.Context, doc Document, n int) ([]Question, error)
}

type Gate interface {
	Authorize(ctx context.Context, user string) (entitlement.Decision, error)
}

// DocumentStore keeps uploaded documents. storage.BlobStore satisfies it.
type DocumentStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

type ManagerConfig struct {
	Session           SessionConfig
	DefaultQuestions  int
	MaxQuestions      int
	GenerationTimeout time.Duration
}

type ManagerOption func(*Manager)

func WithDocuments(d DocumentStore) ManagerOption { return func(m *Manager) { m.docs = d } }
func WithShuffle(fn func([]Question)) ManagerOption { return func(m *Manager) { m.shuffle = fn } }
func WithManagerLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

// Manager owns the live sessions. Each user has at most one active session
// and at most one generation in flight. A per-user ticket is bumped whenever
// the user restarts or signs out, so a generation that finishes afterwards
// is discarded instead of replacing what the user is doing now.
type Manager struct {
	gen     Generator
	gate    Gate
	docs    DocumentStore
	cfg     ManagerConfig
	shuffle func([]Question)
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]string // owner -> session id
	tickets  map[string]uint64
	inflight map[string]bool
}

func NewManager(gen Generator, gate Gate, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	if cfg.DefaultQuestions <= 0 {
		cfg.DefaultQuestions = 5
	}
	if cfg.MaxQuestions < cfg.DefaultQuestions {
		cfg.MaxQuestions = max(cfg.DefaultQuestions, 20)
	}
	cfg.Session = cfg.Session.withDefaults()
	m := &Manager{
		gen:      gen,
		gate:     gate,
		cfg:      cfg,
		shuffle:  shuffleQuestions,
		log:      cfg.Session.Logger,
		sessions: map[string]*Session{},
		active:   map[string]string{},
		tickets:  map[string]uint64{},
		inflight: map[string]bool{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func shuffleQuestions(qs []Question) {
	rand.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}

// Generate authorizes one attempt, generates n questions from doc and opens
// a session over them. n <= 0 means the configured default. The entitlement
// is consumed before generation starts and is not returned if it fails.
func (m *Manager) Generate(ctx context.Context, owner string, doc Document, n int) (*Session, error) {
	const op = "quiz.generate"
	if owner == "" {
		return nil, apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	if n <= 0 {
		n = m.cfg.DefaultQuestions
	}
	if n > m.cfg.MaxQuestions {
		return nil, apperr.Errorf(apperr.KindInvalid, op, "at most %d questions", m.cfg.MaxQuestions)
	}
	if len(doc.Data) == 0 {
		return nil, apperr.Errorf(apperr.KindInvalid, op, "empty document")
	}

	m.mu.Lock()
	if m.inflight[owner] {
		m.mu.Unlock()
		return nil, apperr.Errorf(apperr.KindBusy, op, "a quiz is already being generated")
	}
	m.inflight[owner] = true
	ticket := m.tickets[owner]
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, owner)
		m.mu.Unlock()
	}()

	d, err := m.gate.Authorize(ctx, owner)
	if err != nil {
		return nil, err
	}
	if d != entitlement.Authorized {
		return nil, apperr.E(apperr.KindEntitlementExhausted, op, nil)
	}

	docKey := m.storeDocument(ctx, owner, doc)

	gctx := ctx
	if m.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, m.cfg.GenerationTimeout)
		defer cancel()
	}
	qs, err := m.gen.Generate(gctx, doc, n)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.E(apperr.KindGenerationFailed, op, err)
		}
		m.log.Warn("generation failed", "owner", owner, "err", err)
		return nil, err
	}
	if len(qs) != n {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, op, "got %d questions, want %d", len(qs), n)
	}
	qs, err = ValidateQuestions(qs)
	if err != nil {
		return nil, apperr.E(apperr.KindGenerationFailed, op, err)
	}
	m.shuffle(qs)

	s := NewSession(owner, docKey, qs, m.cfg.Session)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickets[owner] != ticket {
		s.Close()
		return nil, apperr.Errorf(apperr.KindSuperseded, op, "quiz was discarded while generating")
	}
	m.registerLocked(s)
	m.log.Info("quiz generated", "owner", owner, "session", s.ID(), "questions", n)
	return s, nil
}

// storeDocument keeps the upload alongside the attempt. Failure only loses
// the link back to the source, so it is logged and the quiz goes ahead.
func (m *Manager) storeDocument(ctx context.Context, owner string, doc Document) string {
	if m.docs == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%s%s", keySafe.Replace(owner), uuid.NewString(), docExt(doc.Name))
	k, err := m.docs.Put(ctx, key, bytes.NewReader(doc.Data), doc.MediaType)
	if err != nil {
		m.log.Warn("document not stored", "owner", owner, "err", err)
		return ""
	}
	return k
}

// Guest ids contain '|', which object stores reject in keys.
var keySafe = strings.NewReplacer("|", "_", "/", "_", "\\", "_")

func docExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (m *Manager) registerLocked(s *Session) {
	if prev, ok := m.sessions[m.active[s.Owner()]]; ok {
		prev.Close()
		delete(m.sessions, prev.ID())
	}
	m.sessions[s.ID()] = s
	m.active[s.Owner()] = s.ID()
}

// Session returns the caller's session. Sessions of other users read as
// missing.
func (m *Manager) Session(owner, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked(owner, id)
}

func (m *Manager) sessionLocked(owner, id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok || s.Owner() != owner {
		return nil, apperr.E(apperr.KindNotFound, "quiz.session", nil)
	}
	return s, nil
}

// Active returns the caller's current session, if any.
func (m *Manager) Active(owner string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.active[owner]]
	return s, ok
}

// Discard drops a session and supersedes any generation the user has in
// flight.
func (m *Manager) Discard(owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(owner, id)
	if err != nil {
		return err
	}
	s.Close()
	delete(m.sessions, id)
	delete(m.active, owner)
	m.tickets[owner]++
	return nil
}

// DiscardAll is the sign-out path.
func (m *Manager) DiscardAll(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[m.active[owner]]; ok {
		s.Close()
		delete(m.sessions, s.ID())
	}
	delete(m.active, owner)
	m.tickets[owner]++
}

// Resume opens a session over the caller's incomplete attempt. Like
// Discard, it supersedes any generation still in flight.
func (m *Manager) Resume(ctx context.Context, owner, attemptID string) (*Session, error) {
	a, err := m.Attempt(ctx, owner, attemptID)
	if err != nil {
		return nil, err
	}
	s, err := ResumeSession(a, m.cfg.Session)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.registerLocked(s)
	m.tickets[owner]++
	m.mu.Unlock()
	return s, nil
}

// Reshuffle replaces a session with a fresh one over the same questions in
// a new order. No entitlement is consumed and nothing is carried over. A
// generation still in flight is superseded.
func (m *Manager) Reshuffle(owner, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, err := m.sessionLocked(owner, id)
	if err != nil {
		return nil, err
	}
	qs := old.Questions()
	m.shuffle(qs)
	s := NewSession(owner, old.documentKey, qs, m.cfg.Session)
	m.registerLocked(s)
	m.tickets[owner]++
	return s, nil
}

func (m *Manager) Attempts(ctx context.Context, owner string) ([]Summary, error) {
	const op = "quiz.attempts"
	if owner == "" {
		return nil, apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	out, err := m.cfg.Session.Store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, err)
	}
	return out, nil
}

// Attempt loads one of the caller's attempts. Other users' attempts read as
// missing.
func (m *Manager) Attempt(ctx context.Context, owner, id string) (Attempt, error) {
	const op = "quiz.attempt"
	if owner == "" {
		return Attempt{}, apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	a, err := m.cfg.Session.Store.Get(ctx, id)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		return Attempt{}, err
	case err != nil:
		return Attempt{}, apperr.E(apperr.KindPersistenceFailed, op, err)
	case a.Owner != owner:
		return Attempt{}, apperr.E(apperr.KindNotFound, op, nil)
	}
	return a, nil
}

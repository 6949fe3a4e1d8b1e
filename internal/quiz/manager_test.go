package quiz

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/entitlement"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	qs      []Question
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, _ Document, n int) ([]Question, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]Question(nil), f.qs...), nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type brokenLedger struct{ *entitlement.MemoryLedger }

func (brokenLedger) Read(context.Context, string) (entitlement.Record, error) {
	return entitlement.Record{}, errors.New("ledger offline")
}

type memDocs struct {
	mu   sync.Mutex
	keys []string
	data map[string][]byte
}

func (m *memDocs) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.keys = append(m.keys, key)
	m.data[key] = b
	return key, nil
}

type fixture struct {
	ledger *entitlement.MemoryLedger
	gen    *fakeGenerator
	store  Store
	docs   *memDocs
	mgr    *Manager
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	f := &fixture{
		ledger: entitlement.NewMemoryLedger(),
		gen:    &fakeGenerator{qs: sampleQuestions()},
		store:  NewMemoryStore(),
		docs:   &memDocs{},
	}
	f.mgr = NewManager(f.gen, entitlement.NewGate(f.ledger, limit),
		ManagerConfig{Session: manualConfig(f.store), DefaultQuestions: 3, MaxQuestions: 10},
		WithDocuments(f.docs), WithShuffle(func([]Question) {}))
	return f
}

var pdf = Document{Name: "notes.PDF", MediaType: "application/pdf", Data: []byte("%PDF-1.7 ...")}

func (f *fixture) count(t *testing.T, user string) int {
	t.Helper()
	r, err := f.ledger.Read(context.Background(), user)
	require.NoError(t, err)
	return r.AttemptCount
}

func TestGenerateOpensSessionAndCountsAttempt(t *testing.T) {
	f := newFixture(t, 4)
	s, err := f.mgr.Generate(context.Background(), "u1", pdf, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, f.count(t, "u1"))
	assert.Equal(t, 1, f.gen.callCount())
	v := s.View()
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, "awaiting_first_answer", v.State)

	require.Len(t, f.docs.keys, 1)
	assert.Regexp(t, `^u1/[0-9a-f-]{36}\.pdf$`, f.docs.keys[0])
	assert.Equal(t, f.docs.keys[0], v.DocumentKey)

	got, err := f.mgr.Session("u1", s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	_, err = f.mgr.Session("u2", s.ID())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGenerateExhaustionScenario(t *testing.T) {
	f := newFixture(t, 4)
	f.ledger.Seed("u1", entitlement.Record{AttemptCount: 3})
	ctx := context.Background()

	_, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, f.count(t, "u1"))

	_, err = f.mgr.Generate(ctx, "u1", pdf, 3)
	assert.ErrorIs(t, err, apperr.ErrEntitlementExhausted)
	assert.Equal(t, 4, f.count(t, "u1"))
	assert.Equal(t, 1, f.gen.callCount(), "denied requests never reach the generator")
}

func TestGenerateUnlimitedIsNeverCounted(t *testing.T) {
	f := newFixture(t, 4)
	f.ledger.Seed("pro", entitlement.Record{AttemptCount: 9, Unlimited: true})
	for i := 0; i < 3; i++ {
		_, err := f.mgr.Generate(context.Background(), "pro", pdf, 3)
		require.NoError(t, err)
	}
	assert.Equal(t, 9, f.count(t, "pro"))
}

func TestGenerateFailureKeepsAttemptCounted(t *testing.T) {
	f := newFixture(t, 4)
	f.gen.err = errors.New("upstream 500")

	_, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
	assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))
	assert.Equal(t, 1, f.count(t, "u1"))
	_, ok := f.mgr.Active("u1")
	assert.False(t, ok)
}

func TestGenerateRejectsWrongCountAndBadQuestions(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.mgr.Generate(context.Background(), "u1", pdf, 2)
	assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))

	bad := sampleQuestions()
	bad[0].CorrectOption = "Lyon"
	f.gen.qs = bad
	_, err = f.mgr.Generate(context.Background(), "u1", pdf, 3)
	assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))
	assert.Equal(t, 2, f.count(t, "u1"))
}

func TestGenerateLedgerUnavailable(t *testing.T) {
	f := newFixture(t, 4)
	f.mgr.gate = entitlement.NewGate(brokenLedger{entitlement.NewMemoryLedger()}, 4)

	_, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
	assert.Equal(t, apperr.KindLedgerUnavailable, apperr.KindOf(err))
	assert.Equal(t, 0, f.gen.callCount())
}

func TestGenerateInputChecks(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	_, err := f.mgr.Generate(ctx, "", pdf, 3)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationRequired)

	_, err = f.mgr.Generate(ctx, "u1", Document{Name: "x.png"}, 3)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.mgr.Generate(ctx, "u1", pdf, 11)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	assert.Equal(t, 0, f.count(t, "u1"))

	_, err = f.mgr.Attempts(ctx, "")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
	_, err = f.mgr.Attempt(ctx, "", "any")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
}

func TestGenerateOneInFlightPerUser(t *testing.T) {
	f := newFixture(t, 4)
	f.gen.entered = make(chan struct{})
	f.gen.release = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Generate(ctx, "u1", pdf, 3)
		done <- err
	}()
	<-f.gen.entered

	_, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	assert.Equal(t, apperr.KindBusy, apperr.KindOf(err))
	assert.Equal(t, 1, f.count(t, "u1"), "a busy request consumes nothing")

	close(f.gen.release)
	require.NoError(t, <-done)
}

func TestGenerateSupersededBySignOut(t *testing.T) {
	f := newFixture(t, 4)
	f.gen.entered = make(chan struct{})
	f.gen.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
		done <- err
	}()
	<-f.gen.entered
	f.mgr.DiscardAll("u1")
	close(f.gen.release)

	err := <-done
	assert.Equal(t, apperr.KindSuperseded, apperr.KindOf(err))
	_, ok := f.mgr.Active("u1")
	assert.False(t, ok)
}

// startBlockedGenerate starts a generation for u1 and returns once the
// generator is holding it.
func startBlockedGenerate(f *fixture) <-chan error {
	f.gen.entered = make(chan struct{})
	f.gen.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
		done <- err
	}()
	<-f.gen.entered
	return done
}

func TestGenerateSupersededByResume(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	s, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)
	require.NoError(t, s.SelectOption(0, "Paris"))
	require.NoError(t, s.Checkpoint(ctx))

	done := startBlockedGenerate(f)
	resumed, err := f.mgr.Resume(ctx, "u1", s.View().AttemptID)
	require.NoError(t, err)
	require.NoError(t, resumed.SelectOption(1, "4"))
	close(f.gen.release)

	assert.Equal(t, apperr.KindSuperseded, apperr.KindOf(<-done))
	active, ok := f.mgr.Active("u1")
	require.True(t, ok)
	assert.Same(t, resumed, active)
	assert.True(t, resumed.View().Answers[1].Answered)
	assert.Equal(t, 2, f.count(t, "u1"))
}

func TestGenerateSupersededByReshuffle(t *testing.T) {
	f := newFixture(t, 4)
	s, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
	require.NoError(t, err)

	done := startBlockedGenerate(f)
	fresh, err := f.mgr.Reshuffle("u1", s.ID())
	require.NoError(t, err)
	close(f.gen.release)

	assert.Equal(t, apperr.KindSuperseded, apperr.KindOf(<-done))
	active, ok := f.mgr.Active("u1")
	require.True(t, ok)
	assert.Same(t, fresh, active)
}

func TestNewSessionReplacesPrevious(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	first, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)
	second, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)

	_, err = f.mgr.Session("u1", first.ID())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindSuperseded, apperr.KindOf(first.SelectOption(0, "Paris")))

	active, ok := f.mgr.Active("u1")
	require.True(t, ok)
	assert.Same(t, second, active)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, 4)
	s, err := f.mgr.Generate(context.Background(), "u1", pdf, 3)
	require.NoError(t, err)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(f.mgr.Discard("u2", s.ID())))
	require.NoError(t, f.mgr.Discard("u1", s.ID()))
	_, err = f.mgr.Session("u1", s.ID())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func prompts(qs []Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Prompt
	}
	sort.Strings(out)
	return out
}

func TestReshuffleKeepsQuestionsAndResetsProgress(t *testing.T) {
	f := newFixture(t, 4)
	f.mgr.shuffle = shuffleQuestions
	ctx := context.Background()
	s, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)
	q0 := s.Questions()[0]
	require.NoError(t, s.SelectOption(0, q0.CorrectOption))
	require.NoError(t, s.Checkpoint(ctx))

	r, err := f.mgr.Reshuffle("u1", s.ID())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), r.ID())
	assert.Equal(t, prompts(s.Questions()), prompts(r.Questions()))

	v := r.View()
	assert.Empty(t, v.AttemptID)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, "awaiting_first_answer", v.State)
	assert.Equal(t, 1, f.count(t, "u1"), "reshuffling is free")
	assert.Equal(t, apperr.KindSuperseded, apperr.KindOf(s.Checkpoint(ctx)))
}

func TestResumeAndAttemptOwnership(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	s, err := f.mgr.Generate(ctx, "u1", pdf, 3)
	require.NoError(t, err)
	require.NoError(t, s.SelectOption(0, "Paris"))
	require.NoError(t, s.Checkpoint(ctx))
	id := s.View().AttemptID

	_, err = f.mgr.Resume(ctx, "u2", id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.mgr.Attempt(ctx, "u2", id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	r, err := f.mgr.Resume(ctx, "u1", id)
	require.NoError(t, err)
	state, cur := r.State()
	assert.Equal(t, Answering, state)
	assert.Equal(t, 1, cur)

	require.NoError(t, r.Finish(ctx))
	_, err = f.mgr.Resume(ctx, "u1", id)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	list, err := f.mgr.Attempts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed)
	assert.Equal(t, 1, list[0].Score)

	a, err := f.mgr.Attempt(ctx, "u1", id)
	require.NoError(t, err)
	rv := ReviewAttempt(a)
	assert.True(t, rv.Completed)
	assert.Equal(t, 1, rv.Score)
	assert.Equal(t, 33, rv.Percentage)
}

func TestDocExt(t *testing.T) {
	assert.Equal(t, ".pdf", docExt("Notes.PDF"))
	assert.Equal(t, ".png", docExt("scan.png"))
	assert.Equal(t, "", docExt("noext"))
	assert.Equal(t, "", docExt("weird.p/f"))
	assert.Equal(t, "", docExt("archive.toolongext"))
}

package quiz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/grading"
)

type State int

const (
	AwaitingFirstAnswer State = iota
	Answering
	Finished
)

func (s State) String() string {
	switch s {
	case AwaitingFirstAnswer:
		return "awaiting_first_answer"
	case Answering:
		return "answering"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Scheduler runs f once after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Recorder receives audit events. eventlog.Repo satisfies it.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type SessionConfig struct {
	Store        Store
	Events       Recorder
	Scheduler    Scheduler
	AutoAdvance  bool
	AdvanceDelay time.Duration
	// SaveTimeout bounds the save made when auto-advance finishes a quiz,
	// since no request context exists at that point.
	SaveTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Scheduler == nil {
		c.Scheduler = timerScheduler{}
	}
	if c.AdvanceDelay <= 0 {
		c.AdvanceDelay = 1500 * time.Millisecond
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Session drives one user through one question set. Transitions run under
// mu; store writes run outside it, guarded by the saving flag.
type Session struct {
	cfg         SessionConfig
	id          string
	owner       string
	documentKey string

	mu           sync.Mutex
	questions    []Question
	answers      []grading.Slot
	current      int
	state        State
	attemptID    string
	version      uint64 // bumped when answers or state change
	savedVersion uint64
	saving       bool
	epoch        uint64 // bumped to invalidate pending auto-advance timers
	lastSaveErr  error
	closed       bool
}

func NewSession(owner, documentKey string, questions []Question, cfg SessionConfig) *Session {
	return &Session{
		cfg:         cfg.withDefaults(),
		id:          uuid.NewString(),
		owner:       owner,
		documentKey: documentKey,
		questions:   append([]Question(nil), questions...),
		answers:     make([]grading.Slot, len(questions)),
	}
}

// ResumeSession rebuilds a session from an incomplete attempt, positioned at
// its first unanswered question with the prior answers in place.
func ResumeSession(a Attempt, cfg SessionConfig) (*Session, error) {
	const op = "session.resume"
	if a.Completed {
		return nil, apperr.Errorf(apperr.KindInvalidTransition, op, "attempt %s is completed", a.ID)
	}
	if len(a.Questions) == 0 || len(a.Answers) > len(a.Questions) {
		return nil, apperr.Errorf(apperr.KindInvalid, op, "attempt %s has %d answers for %d questions", a.ID, len(a.Answers), len(a.Questions))
	}
	s := NewSession(a.Owner, a.DocumentKey, a.Questions, cfg)
	copy(s.answers, a.Answers)
	s.attemptID = a.ID
	s.current = a.FirstUnanswered()
	if s.current < 0 {
		s.current = len(s.questions) - 1
	}
	for _, sl := range s.answers {
		if sl.Answered {
			s.state = Answering
			break
		}
	}
	return s, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Owner() string { return s.owner }

// Questions returns a copy of the question set in session order.
func (s *Session) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Question(nil), s.questions...)
}

// SelectOption records option for question i, which must be the current,
// unanswered question. With auto-advance on, the move to the next question
// (or to Finished after the last one) is scheduled after the display delay.
func (s *Session) SelectOption(i int, option string) error {
	const op = "session.select"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.liveLocked(op); err != nil {
		return err
	}
	if i != s.current {
		return apperr.Errorf(apperr.KindInvalidTransition, op, "question %d is not current (current is %d)", i, s.current)
	}
	if s.answers[i].Answered {
		return apperr.Errorf(apperr.KindInvalidTransition, op, "question %d already answered", i)
	}
	canon, ok := grading.Canonical(s.questions[i].Options, option)
	if !ok {
		return apperr.Errorf(apperr.KindInvalid, op, "%q is not an option of question %d", option, i)
	}
	s.answers[i] = grading.Answer(canon)
	s.state = Answering
	s.version++
	if s.cfg.AutoAdvance {
		epoch := s.epoch
		s.cfg.Scheduler.AfterFunc(s.cfg.AdvanceDelay, func() { s.advance(epoch, i) })
	}
	return nil
}

func (s *Session) advance(epoch uint64, i int) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch || s.current != i || s.state == Finished {
		s.mu.Unlock()
		return
	}
	if i < len(s.questions)-1 {
		s.current++
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.autoFinish()
}

// autoFinish finishes on behalf of the timer. A save already in flight is
// waited out by rescheduling; any other failure stays visible in the view
// and a manual Finish retries it.
func (s *Session) autoFinish() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()
	err := s.Finish(ctx)
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindBusy):
		s.cfg.Scheduler.AfterFunc(s.cfg.AdvanceDelay, s.autoFinish)
	default:
		s.cfg.Logger.Warn("auto finish not saved", "session", s.id, "owner", s.owner, "err", err)
	}
}

// Next moves past the current question once it is answered. Next on the
// last question finishes the quiz.
func (s *Session) Next(ctx context.Context) error {
	const op = "session.next"
	s.mu.Lock()
	if err := s.liveLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.answers[s.current].Answered {
		s.mu.Unlock()
		return apperr.Errorf(apperr.KindInvalidTransition, op, "question %d is unanswered", s.current)
	}
	s.epoch++
	if s.current < len(s.questions)-1 {
		s.current++
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Finish(ctx)
}

func (s *Session) Previous() error {
	const op = "session.previous"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.liveLocked(op); err != nil {
		return err
	}
	if s.current == 0 {
		return apperr.Errorf(apperr.KindInvalidTransition, op, "already at the first question")
	}
	s.epoch++
	s.current--
	return nil
}

// Checkpoint saves progress as an incomplete attempt. The first checkpoint
// inserts and takes the attempt id; later ones update that record.
func (s *Session) Checkpoint(ctx context.Context) error {
	const op = "session.checkpoint"
	s.mu.Lock()
	if err := s.liveLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.saving {
		s.mu.Unlock()
		return apperr.Errorf(apperr.KindBusy, op, "a save is already running")
	}
	s.saving = true
	a := s.attemptLocked(false)
	id, version := s.attemptID, s.version
	s.mu.Unlock()

	id, err := s.persist(ctx, id, a)
	if err = s.saved(op, id, version, err); err != nil {
		return err
	}
	s.record(ctx, "attempt.checkpointed", id, a)
	return nil
}

// Finish scores every slot (unanswered counts as incorrect) and saves the
// attempt as completed. It is valid from any state and always leaves the
// session Finished, even when the save fails or another save is running.
// Once saved, further calls are no-ops; otherwise calling it again retries.
func (s *Session) Finish(ctx context.Context) error {
	const op = "session.finish"
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.E(apperr.KindSuperseded, op, nil)
	}
	if s.state != Finished {
		s.state = Finished
		s.epoch++
		s.version++
	}
	if s.saving {
		s.mu.Unlock()
		return apperr.Errorf(apperr.KindBusy, op, "a save is already running")
	}
	if s.isSavedLocked() {
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	a := s.attemptLocked(true)
	id, version := s.attemptID, s.version
	s.mu.Unlock()

	id, err := s.persist(ctx, id, a)
	if err = s.saved(op, id, version, err); err != nil {
		return err
	}
	s.record(ctx, "attempt.completed", id, a)
	return nil
}

// Review is the per-question breakdown of a finished session.
func (s *Session) Review() (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Finished {
		return Review{}, apperr.Errorf(apperr.KindInvalidTransition, "session.review", "quiz is not finished")
	}
	r := BuildReview(s.questions, s.answers)
	r.Completed = true
	return r, nil
}

// Close invalidates the session: pending timers no-op and later operations
// fail with KindSuperseded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.epoch++
}

func (s *Session) liveLocked(op string) error {
	if s.closed {
		return apperr.E(apperr.KindSuperseded, op, nil)
	}
	if s.state == Finished {
		return apperr.Errorf(apperr.KindInvalidTransition, op, "quiz is finished")
	}
	return nil
}

func (s *Session) isSavedLocked() bool {
	return s.attemptID != "" && s.savedVersion == s.version
}

func (s *Session) attemptLocked(completed bool) Attempt {
	now := s.cfg.Now()
	title := progressTitle(now)
	if completed {
		title = completedTitle(now)
	}
	return Attempt{
		ID:          s.attemptID,
		Owner:       s.owner,
		Title:       title,
		Questions:   append([]Question(nil), s.questions...),
		Answers:     append([]grading.Slot(nil), s.answers...),
		Score:       grading.Score(keys(s.questions), s.answers),
		Completed:   completed,
		DocumentKey: s.documentKey,
	}
}

func (s *Session) persist(ctx context.Context, id string, a Attempt) (string, error) {
	if id == "" {
		return s.cfg.Store.Insert(ctx, a)
	}
	return id, s.cfg.Store.Update(ctx, id, a)
}

// saved clears the saving flag and applies the outcome of a store write made
// for the given version.
func (s *Session) saved(op, id string, version uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		s.lastSaveErr = err
		s.cfg.Logger.Warn("attempt save failed", "op", op, "session", s.id, "owner", s.owner, "err", err)
		return apperr.E(apperr.KindPersistenceFailed, op, err)
	}
	s.attemptID = id
	s.savedVersion = version
	s.lastSaveErr = nil
	return nil
}

func (s *Session) record(ctx context.Context, typ, id string, a Attempt) {
	if s.cfg.Events == nil {
		return
	}
	data := map[string]any{"attempt_id": id, "score": a.Score, "total": a.Total(), "session_id": s.id}
	if err := s.cfg.Events.Record(ctx, typ, s.owner, data); err != nil {
		s.cfg.Logger.Warn("event log append failed", "type", typ, "err", err)
	}
}

// View is a snapshot of a session for rendering.
type View struct {
	ID            string         `json:"id"`
	State         string         `json:"state"`
	Current       int            `json:"current"`
	Total         int            `json:"total"`
	Question      *QuestionView  `json:"question,omitempty"`
	Answers       []grading.Slot `json:"answers"`
	Score         int            `json:"score"`
	Percentage    int            `json:"percentage"`
	AttemptID     string         `json:"attempt_id,omitempty"`
	Saved         bool           `json:"saved"`
	Saving        bool           `json:"saving"`
	AutoAdvance   bool           `json:"auto_advance"`
	DocumentKey   string         `json:"document_key,omitempty"`
	LastSaveError string         `json:"last_save_error,omitempty"`
}

// QuestionView is the current question. The key and excerpt are revealed
// only after the question has been answered.
type QuestionView struct {
	Prompt            string       `json:"question"`
	Options           []string     `json:"options"`
	Selected          grading.Slot `json:"selected"`
	Correct           *bool        `json:"correct,omitempty"`
	CorrectOption     string       `json:"answer,omitempty"`
	SupportingExcerpt string       `json:"context,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := grading.Score(keys(s.questions), s.answers)
	v := View{
		ID:          s.id,
		State:       s.state.String(),
		Current:     s.current,
		Total:       len(s.questions),
		Answers:     append([]grading.Slot(nil), s.answers...),
		Score:       score,
		Percentage:  grading.Percentage(score, len(s.questions)),
		AttemptID:   s.attemptID,
		Saved:       s.isSavedLocked(),
		Saving:      s.saving,
		AutoAdvance: s.cfg.AutoAdvance,
		DocumentKey: s.documentKey,
	}
	if s.lastSaveErr != nil {
		v.LastSaveError = s.lastSaveErr.Error()
	}
	if s.state != Finished && len(s.questions) > 0 {
		q := s.questions[s.current]
		slot := s.answers[s.current]
		qv := &QuestionView{Prompt: q.Prompt, Options: append([]string(nil), q.Options...), Selected: slot}
		if slot.Answered {
			ok := slot.Correct(q.CorrectOption)
			qv.Correct = &ok
			qv.CorrectOption = q.CorrectOption
			qv.SupportingExcerpt = q.SupportingExcerpt
		}
		v.Question = qv
	}
	return v
}

// State reports the state and current index.
func (s *Session) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

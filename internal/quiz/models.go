// Package quiz holds the quiz attempt model, the attempt store and the
// session state machine that drives a user through a generated question set.
package quiz

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/quizmaker/internal/grading"
)

// Question is one multiple-choice item. CorrectOption is always one of
// Options under the grading comparison policy.
type Question struct {
	Prompt            string   `json:"question" validate:"required"`
	Options           []string `json:"options" validate:"len=4,dive,required"`
	CorrectOption     string   `json:"answer" validate:"required"`
	SupportingExcerpt string   `json:"context,omitempty"`
}

// Attempt is a persisted quiz. Questions never change after generation;
// Answers has one slot per question.
type Attempt struct {
	ID          string         `json:"id"`
	Owner       string         `json:"user_id"`
	Title       string         `json:"title"`
	Questions   []Question     `json:"questions"`
	Answers     []grading.Slot `json:"answers"`
	Score       int            `json:"score"`
	Completed   bool           `json:"completed"`
	DocumentKey string         `json:"document_key,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (a Attempt) Total() int { return len(a.Questions) }

// FirstUnanswered is the index a resumed session starts at, or -1 when every
// slot holds an answer.
func (a Attempt) FirstUnanswered() int {
	for i, s := range a.Answers {
		if !s.Answered {
			return i
		}
	}
	if len(a.Answers) < len(a.Questions) {
		return len(a.Answers)
	}
	return -1
}

// Summary is the list view of an attempt.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Score     int       `json:"score"`
	Total     int       `json:"total_questions"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Attempt) Summary() Summary {
	return Summary{
		ID: a.ID, Title: a.Title, Score: a.Score, Total: a.Total(),
		Completed: a.Completed, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func keys(qs []Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.CorrectOption
	}
	return out
}

func progressTitle(t time.Time) string  { return fmt.Sprintf("Quiz in progress (%s)", t.Format(time.DateOnly)) }
func completedTitle(t time.Time) string { return fmt.Sprintf("Quiz (%s)", t.Format(time.DateOnly)) }

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateQuestions checks shape and pins each CorrectOption to the exact
// text of the option it matches. It returns a cleaned copy.
func ValidateQuestions(qs []Question) ([]Question, error) {
	if len(qs) == 0 {
		return nil, fmt.Errorf("no questions")
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		if err := validate.Struct(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		canon, ok := grading.Canonical(q.Options, q.CorrectOption)
		if !ok {
			return nil, fmt.Errorf("question %d: answer %q is not one of its options", i+1, q.CorrectOption)
		}
		q.Options = append([]string(nil), q.Options...)
		q.CorrectOption = canon
		out[i] = q
	}
	return out, nil
}

package quiz

import "github.com/mind-engage/quizmaker/internal/grading"

type ReviewItem struct {
	Index             int          `json:"index"`
	Prompt            string       `json:"question"`
	Options           []string     `json:"options"`
	Selected          grading.Slot `json:"selected"`
	CorrectOption     string       `json:"answer"`
	Correct           bool         `json:"correct"`
	SupportingExcerpt string       `json:"context,omitempty"`
}

type Review struct {
	Items      []ReviewItem `json:"items"`
	Score      int          `json:"score"`
	Total      int          `json:"total"`
	Percentage int          `json:"percentage"`
	Completed  bool         `json:"completed"`
}

// BuildReview marks each question with the same comparison used for scoring,
// so the highlighted answers always add up to Score.
func BuildReview(questions []Question, answers []grading.Slot) Review {
	r := Review{Items: make([]ReviewItem, len(questions)), Total: len(questions)}
	for i, q := range questions {
		var slot grading.Slot
		if i < len(answers) {
			slot = answers[i]
		}
		ok := slot.Correct(q.CorrectOption)
		if ok {
			r.Score++
		}
		r.Items[i] = ReviewItem{
			Index:             i,
			Prompt:            q.Prompt,
			Options:           append([]string(nil), q.Options...),
			Selected:          slot,
			CorrectOption:     q.CorrectOption,
			Correct:           ok,
			SupportingExcerpt: q.SupportingExcerpt,
		}
	}
	r.Percentage = grading.Percentage(r.Score, r.Total)
	return r
}

// ReviewAttempt reviews a stored attempt.
func ReviewAttempt(a Attempt) Review {
	r := BuildReview(a.Questions, a.Answers)
	r.Completed = a.Completed
	return r
}

package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/quizmaker/internal/quiz"
)

// ParseQuestions reads model output: a JSON array of questions, or an object
// with a "questions" array, optionally wrapped in a markdown code fence.
// The result is validated with quiz.ValidateQuestions.
func ParseQuestions(text string) ([]quiz.Question, error) {
	raw := []byte(stripFence(text))
	if len(raw) == 0 {
		return nil, errors.New("empty model output")
	}
	var qs []quiz.Question
	if raw[0] == '{' {
		var wrapped struct {
			Questions []quiz.Question `json:"questions"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("model output is not valid JSON: %w", err)
		}
		qs = wrapped.Questions
	} else if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}
	for i := range qs {
		qs[i].Prompt = strings.TrimSpace(qs[i].Prompt)
		qs[i].SupportingExcerpt = strings.TrimSpace(qs[i].SupportingExcerpt)
	}
	return quiz.ValidateQuestions(qs)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

package grading

import "encoding/json"

// Slot is one answer position: Answered false means "unanswered".
type Slot struct {
	Selected string
	Answered bool
}

// Answer returns a slot holding opt.
func Answer(opt string) Slot { return Slot{Selected: opt, Answered: true} }

// MarshalJSON encodes an unanswered slot as null and an answered one as its
// option text.
func (s Slot) MarshalJSON() ([]byte, error) {
	if !s.Answered {
		return []byte("null"), nil
	}
	return json.Marshal(s.Selected)
}

func (s *Slot) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Slot{}
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Answer(v)
	return nil
}

// Correct reports whether the slot holds an answer equivalent to key.
// Unanswered slots are never correct.
func (s Slot) Correct(key string) bool {
	return s.Answered && Equivalent(s.Selected, key)
}

// Score counts slots whose answer matches the key at the same position.
// Extra answers beyond the key are ignored; missing ones count as incorrect.
func Score(keys []string, slots []Slot) int {
	score := 0
	for i, k := range keys {
		if i < len(slots) && slots[i].Correct(k) {
			score++
		}
	}
	return score
}

// Percentage rounds score/total to the nearest whole percent.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return (score*100 + total/2) / total
}

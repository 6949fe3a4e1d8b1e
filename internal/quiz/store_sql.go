package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/grading"
)

// SQLStore keeps attempts in quiz_attempts. Questions and answers are stored
// as JSON columns; timestamps are unix milliseconds.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) Insert(ctx context.Context, a Attempt) (string, error) {
	qj, aj, err := encodeAttempt(a)
	if err != nil {
		return "", err
	}
	id := newAttemptID()
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO quiz_attempts
		(id,user_id,title,questions_json,answers_json,score,total_questions,completed,document_key,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, a.Owner, a.Title, qj, aj, a.Score, a.Total(), a.Completed, a.DocumentKey, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update rewrites an incomplete attempt in one statement; the WHERE clause
// makes completed rows immutable even under concurrent writers.
func (s *SQLStore) Update(ctx context.Context, id string, a Attempt) error {
	const op = "store.update"
	qj, aj, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE quiz_attempts
		SET title=$1, questions_json=$2, answers_json=$3, score=$4, total_questions=$5,
		    completed=$6, document_key=$7, updated_at=$8
		WHERE id=$9 AND user_id=$10 AND completed=$11`,
		a.Title, qj, aj, a.Score, a.Total(), a.Completed, a.DocumentKey, s.now().UnixMilli(),
		id, a.Owner, false)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var owner string
	var completed bool
	err = s.db.QueryRowContext(ctx, `SELECT user_id, completed FROM quiz_attempts WHERE id=$1`, id).
		Scan(&owner, &completed)
	switch {
	case errors.Is(err, sql.ErrNoRows), err == nil && owner != a.Owner:
		return apperr.E(apperr.KindNotFound, op, nil)
	case err != nil:
		return err
	case completed:
		return apperr.Errorf(apperr.KindInvalidTransition, op, "attempt %s is completed", id)
	}
	return errors.New("attempt update affected no rows")
}

func (s *SQLStore) ListByOwner(ctx context.Context, owner string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,title,score,total_questions,completed,created_at,updated_at
		FROM quiz_attempts WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Summary{}
	for rows.Next() {
		var sm Summary
		var created, updated int64
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Score, &sm.Total, &sm.Completed, &created, &updated); err != nil {
			return nil, err
		}
		sm.CreatedAt, sm.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,user_id,title,questions_json,answers_json,score,completed,document_key,created_at,updated_at
		FROM quiz_attempts WHERE id=$1`, id)
	var a Attempt
	var qj, aj string
	var created, updated int64
	if err := row.Scan(&a.ID, &a.Owner, &a.Title, &qj, &aj, &a.Score, &a.Completed, &a.DocumentKey, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, apperr.E(apperr.KindNotFound, "store.get", nil)
		}
		return Attempt{}, err
	}
	if err := json.Unmarshal([]byte(qj), &a.Questions); err != nil {
		return Attempt{}, err
	}
	if err := json.Unmarshal([]byte(aj), &a.Answers); err != nil {
		return Attempt{}, err
	}
	a.CreatedAt, a.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
	return a, nil
}

func encodeAttempt(a Attempt) (string, string, error) {
	qj, err := json.Marshal(a.Questions)
	if err != nil {
		return "", "", err
	}
	answers := a.Answers
	if answers == nil {
		answers = make([]grading.Slot, len(a.Questions))
	}
	aj, err := json.Marshal(answers)
	if err != nil {
		return "", "", err
	}
	return string(qj), string(aj), nil
}

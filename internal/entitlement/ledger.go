package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Record is one user's usage.
type Record struct {
	AttemptCount int  `json:"attempt_count"`
	Unlimited    bool `json:"unlimited"`
}

// Ledger persists usage records. A user with no row reads as the zero Record.
type Ledger interface {
	Read(ctx context.Context, user string) (Record, error)
	// Increment adds one attempt only while the count is below limit, as a
	// single atomic step. It reports whether the attempt was counted.
	Increment(ctx context.Context, user string, limit int) (bool, error)
	SetUnlimited(ctx context.Context, user string) error
}

// SQLLedger keeps usage in the profiles table.
type SQLLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, now: time.Now}
}

func (l *SQLLedger) Read(ctx context.Context, user string) (Record, error) {
	var r Record
	err := l.db.QueryRowContext(ctx,
		`SELECT quiz_attempts, is_pro FROM profiles WHERE id=$1`, user).
		Scan(&r.AttemptCount, &r.Unlimited)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// Increment is one conditional upsert, so two processes racing at
// limit-1 cannot both be counted.
func (l *SQLLedger) Increment(ctx context.Context, user string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO profiles (id, quiz_attempts, is_pro, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			quiz_attempts = profiles.quiz_attempts + 1,
			updated_at = EXCLUDED.updated_at
		WHERE profiles.quiz_attempts < $4`,
		user, false, l.now().Unix(), limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *SQLLedger) SetUnlimited(ctx context.Context, user string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO profiles (id, quiz_attempts, is_pro, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			is_pro = EXCLUDED.is_pro,
			updated_at = EXCLUDED.updated_at`,
		user, true, l.now().Unix())
	return err
}

// MemoryLedger is an in-process Ledger for tests and offline demos.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: map[string]Record{}}
}

func (m *MemoryLedger) Read(_ context.Context, user string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[user], nil
}

func (m *MemoryLedger) Increment(_ context.Context, user string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[user]
	if r.AttemptCount >= limit {
		return false, nil
	}
	r.AttemptCount++
	m.records[user] = r
	return true, nil
}

func (m *MemoryLedger) SetUnlimited(_ context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[user]
	r.Unlimited = true
	m.records[user] = r
	return nil
}

// Seed sets a record directly.
func (m *MemoryLedger) Seed(user string, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[user] = r
}

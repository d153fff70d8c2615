package vectorguard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const verdictSchema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	category     TEXT NOT NULL,
	malicious    INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	decision     TEXT NOT NULL,
	evaluated_at INTEGER NOT NULL,
	payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS verdicts_source_time ON verdicts (source, evaluated_at DESC);
`

type verdictRow struct {
	ID          string  `db:"id"`
	Source      string  `db:"source"`
	Category    string  `db:"category"`
	Malicious   bool    `db:"malicious"`
	Confidence  float64 `db:"confidence"`
	Decision    string  `db:"decision"`
	EvaluatedAt int64   `db:"evaluated_at"`
	Payload     string  `db:"payload"`
}

// SQLiteVerdictStore persists verdicts in a SQLite database.
type SQLiteVerdictStore struct {
	db *sqlx.DB
}

// OpenSQLiteVerdictStore opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLiteVerdictStore(path string) (*SQLiteVerdictStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open verdict store: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(verdictSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate verdict store: %w", err)
	}
	return &SQLiteVerdictStore{db: db}, nil
}

func (s *SQLiteVerdictStore) Save(ctx context.Context, v Verdict) error {
	if v.ID == "" {
		return fmt.Errorf("save verdict for %s: missing id", v.Source)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict %s: %w", v.ID, err)
	}
	row := verdictRow{
		ID:          v.ID,
		Source:      v.Source,
		Category:    string(v.Category),
		Malicious:   v.Malicious,
		Confidence:  v.Confidence,
		Decision:    string(v.Decision),
		EvaluatedAt: v.EvaluatedAt.UnixNano(),
		Payload:     string(payload),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO verdicts (id, source, category, malicious, confidence, decision, evaluated_at, payload)
		VALUES (:id, :source, :category, :malicious, :confidence, :decision, :evaluated_at, :payload)`, row)
	if err != nil {
		return fmt.Errorf("save verdict %s: %w", v.ID, err)
	}
	return nil
}

// History returns up to limit verdicts for source, newest first. limit <= 0 returns all.
func (s *SQLiteVerdictStore) History(ctx context.Context, source string, limit int) ([]Verdict, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []verdictRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, source, category, malicious, confidence, decision, evaluated_at, payload
		FROM verdicts WHERE source = ? ORDER BY evaluated_at DESC LIMIT ?`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", source, err)
	}
	out := make([]Verdict, 0, len(rows))
	for _, row := range rows {
		var v Verdict
		if err := json.Unmarshal([]byte(row.Payload), &v); err != nil {
			return nil, fmt.Errorf("decode verdict %s: %w", row.ID, err)
		}
		v.EvaluatedAt = time.Unix(0, row.EvaluatedAt).UTC()
		out = append(out, v)
	}
	return out, nil
}

// Prune deletes verdicts evaluated before cutoff.
func (s *SQLiteVerdictStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE evaluated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune verdicts: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteVerdictStore) Close() error {
	return s.db.Close()
}

// Package storage is the durable source of truth: per-community poll
// state, the leaderboard, the bounded question history, and knowledge
// docs, all in a single SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// historyLimit bounds the per-community question history. Pruned on
// every append.
const historyLimit = 50

// Store wraps a SQLite database with methods for poll state, scores,
// question history, and knowledge docs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pollbot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Poll state ---

// GetPollState loads one typed poll record. It returns ErrNotFound for
// an absent row and a descriptive error for a row that fails to decode
// or validate — malformed state must surface at the load boundary.
func (s *Store) GetPollState(communityID, key string) (*PollRecord, error) {
	var dataJSON string
	err := s.db.QueryRow(
		`SELECT data_json FROM poll_state WHERE community_id = ? AND key = ?`,
		communityID, key,
	).Scan(&dataJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec PollRecord
	if err := json.Unmarshal([]byte(dataJSON), &rec); err != nil {
		return nil, fmt.Errorf("decoding %s state for %s: %w", key, communityID, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("malformed %s state for %s: %w", key, communityID, err)
	}
	return &rec, nil
}

// SetPollState upserts one typed poll record.
func (s *Store) SetPollState(communityID, key string, rec *PollRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to persist malformed %s state: %w", key, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s state: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO poll_state (community_id, key, data_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, key) DO UPDATE SET data_json = excluded.data_json, updated_at = excluded.updated_at`,
		communityID, key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeletePollState removes one poll record. Deleting an absent record is
// not an error: the caller's goal (no record) is already met.
func (s *Store) DeletePollState(communityID, key string) error {
	_, err := s.db.Exec(`DELETE FROM poll_state WHERE community_id = ? AND key = ?`, communityID, key)
	return err
}

// --- Leaderboard ---

// IncrementScores awards one point to each of userIDs in a single
// transaction. Awarding the same batch twice is observable (the scores
// move twice); callers serialize resolution per community to keep this
// at-least-once rather than many-times.
func (s *Store) IncrementScores(communityID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning score transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, userID := range userIDs {
		if _, err := tx.Exec(`
			INSERT INTO leaderboard (community_id, user_id, score, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(community_id, user_id) DO UPDATE SET score = score + 1, updated_at = excluded.updated_at`,
			communityID, userID, now,
		); err != nil {
			return fmt.Errorf("incrementing score for %s: %w", userID, err)
		}
	}

	return tx.Commit()
}

// AddScore adds points (admin operation).
func (s *Store) AddScore(communityID, userID string, points int) error {
	if points < 0 {
		return fmt.Errorf("points must be non-negative")
	}
	_, err := s.db.Exec(`
		INSERT INTO leaderboard (community_id, user_id, score, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, user_id) DO UPDATE SET score = score + ?, updated_at = excluded.updated_at`,
		communityID, userID, points, time.Now().UTC().Format(time.RFC3339), points,
	)
	return err
}

// RemoveScore subtracts points, floored at zero.
func (s *Store) RemoveScore(communityID, userID string, points int) error {
	if points < 0 {
		return fmt.Errorf("points must be non-negative")
	}
	_, err := s.db.Exec(`
		UPDATE leaderboard SET score = MAX(0, score - ?), updated_at = ? WHERE community_id = ? AND user_id = ?`,
		points, time.Now().UTC().Format(time.RFC3339), communityID, userID,
	)
	return err
}

// SetScore sets an exact score (admin operation).
func (s *Store) SetScore(communityID, userID string, score int) error {
	if score < 0 {
		return fmt.Errorf("score must be non-negative")
	}
	_, err := s.db.Exec(`
		INSERT INTO leaderboard (community_id, user_id, score, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, user_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		communityID, userID, score, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetScore returns a user's score, zero if unranked.
func (s *Store) GetScore(communityID, userID string) (int, error) {
	var score int
	err := s.db.QueryRow(
		`SELECT score FROM leaderboard WHERE community_id = ? AND user_id = ?`,
		communityID, userID,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return score, err
}

// TopScores returns up to limit leaderboard standings, highest first.
func (s *Store) TopScores(communityID string, limit int) ([]Standing, error) {
	rows, err := s.db.Query(`
		SELECT user_id, score FROM leaderboard
		WHERE community_id = ? AND score > 0
		ORDER BY score DESC, user_id ASC LIMIT ?`,
		communityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.UserID, &st.Score); err != nil {
			return nil, err
		}
		standings = append(standings, st)
	}
	return standings, rows.Err()
}

// --- Question history ---

// AppendQuestion records an asked question and prunes the history past
// its bound.
func (s *Store) AppendQuestion(communityID, question, normalized string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO question_history (community_id, question, normalized, created_at) VALUES (?, ?, ?, ?)`,
		communityID, question, normalized, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM question_history
		WHERE community_id = ? AND id NOT IN (
			SELECT id FROM question_history WHERE community_id = ? ORDER BY id DESC LIMIT ?
		)`,
		communityID, communityID, historyLimit,
	); err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}

	return tx.Commit()
}

// RecentQuestions returns up to limit previously asked questions,
// newest first.
func (s *Store) RecentQuestions(communityID string, limit int) ([]string, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	rows, err := s.db.Query(`
		SELECT question FROM question_history WHERE community_id = ? ORDER BY id DESC LIMIT ?`,
		communityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// --- Knowledge docs ---

// SaveKnowledgeDoc stores one grounding document.
func (s *Store) SaveKnowledgeDoc(doc KnowledgeDoc) error {
	_, err := s.db.Exec(`
		INSERT INTO knowledge_docs (id, community_id, content, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.CommunityID, doc.Content, doc.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListKnowledgeDocs returns a community's grounding documents, newest first.
func (s *Store) ListKnowledgeDocs(communityID string, limit int) ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`
		SELECT id, community_id, content, created_at FROM knowledge_docs
		WHERE community_id = ? ORDER BY created_at DESC LIMIT ?`,
		communityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		var d KnowledgeDoc
		var createdAt string
		if err := rows.Scan(&d.ID, &d.CommunityID, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteKnowledgeDoc removes one grounding document.
func (s *Store) DeleteKnowledgeDoc(id string) error {
	res, err := s.db.Exec(`DELETE FROM knowledge_docs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

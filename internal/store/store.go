// Package store persists quests, users, and quest completions in
// SQLite. Generated quests are appended with a single INSERT against a
// primary-key id, so concurrent creators cannot lose each other's
// writes the way a read-rewrite JSON file could.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prakriti-odyssey/odyssey/internal/model"

	_ "modernc.org/sqlite"
)

// DefaultSessionTTL is how long a login token stays valid unless the
// deployment overrides it.
const DefaultSessionTTL = 24 * time.Hour

type Store struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, sessionTTL: DefaultSessionTTL}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetSessionTTL overrides the lifetime of newly created auth sessions.
// Non-positive durations are ignored.
func (s *Store) SetSessionTTL(d time.Duration) {
	if d > 0 {
		s.sessionTTL = d
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'quiz',
		difficulty TEXT NOT NULL DEFAULT 'medium',
		content TEXT NOT NULL,
		reward_points INTEGER NOT NULL DEFAULT 0,
		reward_coins INTEGER NOT NULL DEFAULT 0,
		assigned_by TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'generated',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		points INTEGER NOT NULL DEFAULT 0,
		coins INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		quest_id TEXT NOT NULL,
		answers TEXT NOT NULL,
		score INTEGER NOT NULL,
		is_perfect INTEGER NOT NULL DEFAULT 0,
		awarded_points INTEGER NOT NULL DEFAULT 0,
		awarded_coins INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (quest_id) REFERENCES quests(id)
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questColumns = `id, title, description, type, difficulty, content, reward_points, reward_coins, assigned_by, is_active, created_at`

// InsertQuest stores a quest. Inserting an id that already exists is an
// error; ids carry a random fragment precisely so this never collides.
func (s *Store) InsertQuest(q model.Quest, source model.QuestSource) error {
	content, err := json.Marshal(q.Content)
	if err != nil {
		return fmt.Errorf("marshal quest content: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO quests (id, title, description, type, difficulty, content, reward_points, reward_coins, assigned_by, is_active, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Title, q.Description, q.Type, q.Difficulty, string(content),
		q.RewardPoints, q.RewardCoins, q.AssignedBy, q.IsActive, source, q.CreatedAt,
	)
	return err
}

func scanQuest(row interface{ Scan(...any) error }) (model.Quest, error) {
	var q model.Quest
	var content string
	err := row.Scan(&q.ID, &q.Title, &q.Description, &q.Type, &q.Difficulty, &content,
		&q.RewardPoints, &q.RewardCoins, &q.AssignedBy, &q.IsActive, &q.CreatedAt)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(content), &q.Content); err != nil {
		return q, fmt.Errorf("unmarshal quest content for %s: %w", q.ID, err)
	}
	return q, nil
}

func (s *Store) queryQuests(query string, args ...any) ([]model.Quest, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quests []model.Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, rows.Err()
}

// ListQuests returns the seed quests in import order followed by the
// generated quests newest-first.
func (s *Store) ListQuests() ([]model.Quest, error) {
	seed, err := s.queryQuests(
		`SELECT ` + questColumns + ` FROM quests WHERE source = 'seed' ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	generated, err := s.queryQuests(
		`SELECT ` + questColumns + ` FROM quests WHERE source = 'generated' ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	return append(seed, generated...), nil
}

// GetQuest returns a quest by id.
func (s *Store) GetQuest(id string) (model.Quest, error) {
	row := s.db.QueryRow(`SELECT `+questColumns+` FROM quests WHERE id = ?`, id)
	return scanQuest(row)
}

// SetQuestActive toggles a quest's is_active flag and returns the
// updated quest.
func (s *Store) SetQuestActive(id string, active bool) (model.Quest, error) {
	res, err := s.db.Exec(`UPDATE quests SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return model.Quest{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Quest{}, err
	}
	if affected == 0 {
		return model.Quest{}, sql.ErrNoRows
	}
	return s.GetQuest(id)
}

// QuestCount returns the number of stored quests for the given source;
// an empty source counts everything.
func (s *Store) QuestCount(source model.QuestSource) (int, error) {
	var count int
	var err error
	if source == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM quests`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM quests WHERE source = ?`, source).Scan(&count)
	}
	return count, err
}

// RecordCompletion appends a completion and credits the user's rewards
// in one transaction. Completions are never updated afterward.
func (s *Store) RecordCompletion(c model.QuestCompletion) error {
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO completions (id, user_id, quest_id, answers, score, is_perfect, awarded_points, awarded_coins, feedback, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.QuestID, string(answers), c.Score, c.IsPerfect,
		c.AwardedPoints, c.AwardedCoins, c.Feedback, c.CompletedAt,
	)
	if err != nil {
		return err
	}

	if c.AwardedPoints > 0 || c.AwardedCoins > 0 {
		_, err = tx.Exec(
			`UPDATE users SET points = points + ?, coins = coins + ? WHERE id = ?`,
			c.AwardedPoints, c.AwardedCoins, c.UserID,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const completionColumns = `id, user_id, quest_id, answers, score, is_perfect, awarded_points, awarded_coins, feedback, completed_at`

func (s *Store) queryCompletions(query string, args ...any) ([]model.QuestCompletion, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var completions []model.QuestCompletion
	for rows.Next() {
		var c model.QuestCompletion
		var answers string
		if err := rows.Scan(&c.ID, &c.UserID, &c.QuestID, &answers, &c.Score, &c.IsPerfect,
			&c.AwardedPoints, &c.AwardedCoins, &c.Feedback, &c.CompletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &c.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers for %s: %w", c.ID, err)
		}
		completions = append(completions, c)
	}
	return completions, rows.Err()
}

// ListCompletions returns all completions, newest first.
func (s *Store) ListCompletions() ([]model.QuestCompletion, error) {
	return s.queryCompletions(`SELECT ` + completionColumns + ` FROM completions ORDER BY rowid DESC`)
}

// ListCompletionsByUser returns one user's completions, newest first.
func (s *Store) ListCompletionsByUser(userID int64) ([]model.QuestCompletion, error) {
	return s.queryCompletions(
		`SELECT `+completionColumns+` FROM completions WHERE user_id = ? ORDER BY rowid DESC`, userID)
}

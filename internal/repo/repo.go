// Package repo persists subjects in SQLite as full documents.
//
// Every save round-trips the complete subject subtree (chats, messages,
// notes, flashcards, tests, materials) — there are no partial patch
// semantics. The repository is the authority for identifiers: optimistic
// client-minted IDs are replaced with server-assigned ones and the
// normalized subject is echoed back.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	icon       TEXT NOT NULL DEFAULT '',
	doc        TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// LocalIDPrefix marks optimistic identifiers minted by the state store
// before the repository has assigned canonical ones.
const LocalIDPrefix = "local-"

// Store is the persistence collaborator for the state layer. Consumers
// should depend on this interface rather than the concrete *DB type.
type Store interface {
	ListSubjects(ctx context.Context) ([]models.Subject, error)
	CreateSubject(ctx context.Context, s models.Subject) (models.Subject, error)
	SaveSubject(ctx context.Context, s models.Subject) (models.Subject, error)
	DeleteSubject(ctx context.Context, id string) error
	Close() error
}

// DB wraps a sql.DB with subject persistence operations.
type DB struct {
	conn *sql.DB
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("repo: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repo: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repo: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// subjectDoc is the JSON document stored per subject row.
type subjectDoc struct {
	Chats     []models.Chat     `json:"chats"`
	Materials []models.Material `json:"materials,omitempty"`
}

// ListSubjects returns all subjects ordered by name.
func (db *DB) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, icon, doc FROM subjects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("repo: list subjects: %w", err)
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var s models.Subject
		var doc string
		if err := rows.Scan(&s.ID, &s.Name, &s.Icon, &doc); err != nil {
			return nil, fmt.Errorf("repo: scan subject: %w", err)
		}
		var d subjectDoc
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return nil, fmt.Errorf("repo: decode subject %s: %w", s.ID, err)
		}
		s.Chats = d.Chats
		if s.Chats == nil {
			s.Chats = []models.Chat{}
		}
		s.Materials = d.Materials
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSubject inserts a new subject, assigning it a canonical identifier,
// and echoes the normalized subject back.
func (db *DB) CreateSubject(ctx context.Context, s models.Subject) (models.Subject, error) {
	id, err := gonanoid.New()
	if err != nil {
		return models.Subject{}, fmt.Errorf("repo: new id: %w", err)
	}
	s.ID = id
	if err := assignIDs(&s); err != nil {
		return models.Subject{}, err
	}

	doc, err := encodeDoc(s)
	if err != nil {
		return models.Subject{}, err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO subjects (id, name, icon, doc, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Icon, doc, time.Now())
	if err != nil {
		return models.Subject{}, fmt.Errorf("repo: insert subject: %w", err)
	}
	return s, nil
}

// SaveSubject replaces the full document of an existing subject and echoes
// the normalized copy, with canonical identifiers assigned to any new chats,
// messages, or materials.
func (db *DB) SaveSubject(ctx context.Context, s models.Subject) (models.Subject, error) {
	if s.ID == "" || isLocalID(s.ID) {
		return models.Subject{}, fmt.Errorf("repo: save subject: %w", apperr.ErrNotFound)
	}
	if err := assignIDs(&s); err != nil {
		return models.Subject{}, err
	}

	doc, err := encodeDoc(s)
	if err != nil {
		return models.Subject{}, err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE subjects SET name = ?, icon = ?, doc = ?, updated_at = ? WHERE id = ?`,
		s.Name, s.Icon, doc, time.Now(), s.ID)
	if err != nil {
		return models.Subject{}, fmt.Errorf("repo: update subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Subject{}, fmt.Errorf("repo: rows affected: %w", err)
	}
	if n == 0 {
		return models.Subject{}, fmt.Errorf("repo: save subject %s: %w", s.ID, apperr.ErrNotFound)
	}
	return s, nil
}

// DeleteSubject removes a subject and, through the full-document model, all
// of its chats and artifacts.
func (db *DB) DeleteSubject(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repo: delete subject %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func encodeDoc(s models.Subject) (string, error) {
	doc, err := json.Marshal(subjectDoc{Chats: s.Chats, Materials: s.Materials})
	if err != nil {
		return "", fmt.Errorf("repo: encode subject doc: %w", err)
	}
	return string(doc), nil
}

// assignIDs replaces empty or optimistic local identifiers on chats,
// messages, and materials with canonical ones.
func assignIDs(s *models.Subject) error {
	for i := range s.Chats {
		c := &s.Chats[i]
		if c.ID == "" || isLocalID(c.ID) {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("repo: new chat id: %w", err)
			}
			c.ID = id
		}
		for j := range c.Messages {
			m := &c.Messages[j]
			if m.ID == "" || isLocalID(m.ID) {
				id, err := gonanoid.New()
				if err != nil {
					return fmt.Errorf("repo: new message id: %w", err)
				}
				m.ID = id
			}
		}
	}
	for i := range s.Materials {
		m := &s.Materials[i]
		if m.ID == "" || isLocalID(m.ID) {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("repo: new material id: %w", err)
			}
			m.ID = id
		}
	}
	return nil
}

func isLocalID(id string) bool {
	return len(id) > len(LocalIDPrefix) && id[:len(LocalIDPrefix)] == LocalIDPrefix
}

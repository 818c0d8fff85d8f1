// Package resources implements large-payload storage (spec §4.4):
// write-once rows, keyed by a random id rather than a content hash,
// referenced by id from oversize channel messages.
package resources

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting Create run
// either standalone or as part of the atomic channel.send transaction
// (spec §9: "perform both inserts under one database transaction").
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store is the narrow resource CRUD surface.
type Store struct {
	db *sql.DB
}

// New wraps db for resource operations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewID allocates a fresh "res_<12 chars>" identifier.
func NewID() string {
	return "res_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Create inserts a resource row and returns its id. conn lets callers pass
// a *sql.Tx to make creation atomic with a referencing message insert.
func Create(conn execer, content string, typ domain.ResourceType, creator, workflow, tag string) (domain.Resource, error) {
	res := domain.Resource{
		ID: NewID(), Workflow: workflow, Tag: tag, Content: content,
		Type: typ, Creator: creator, CreatedAt: time.Now(),
	}
	_, err := conn.Exec(
		`INSERT INTO resources (id, workflow, tag, content, type, creator, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Workflow, res.Tag, res.Content, res.Type, res.Creator, res.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// Create is the standalone convenience wrapper over the package-level
// Create, used by the tool dispatcher's resource_create handler.
func (s *Store) Create(content string, typ domain.ResourceType, creator, workflow, tag string) (domain.Resource, error) {
	return Create(s.db, content, typ, creator, workflow, tag)
}

// Read fetches a resource by id. Returns NotFound if absent.
func (s *Store) Read(id string) (domain.Resource, error) {
	row := s.db.QueryRow(
		`SELECT id, workflow, tag, content, type, creator, created_at FROM resources WHERE id = ?`, id,
	)
	var res domain.Resource
	var createdAt string
	if err := row.Scan(&res.ID, &res.Workflow, &res.Tag, &res.Content, &res.Type, &res.Creator, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, kernelerr.NotFoundf("resource %s not found", id)
		}
		return domain.Resource{}, err
	}
	res.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return res, nil
}

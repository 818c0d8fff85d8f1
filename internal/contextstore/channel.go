// Package contextstore implements the context store (spec §4.3): the
// channel message log and the per-agent inbox view over it. This is the
// hardest piece of the kernel — write-time mention parsing, monotonic
// cursors, atomic auto-resourcing, and DM visibility filtering all live
// here, each as a short, direct SQL operation rather than a whole-state
// load/mutate/save cycle.
package contextstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/resources"
)

// Store is the channel + inbox surface. It depends on the registry (to
// resolve a workflow instance's member names for mention resolution) and
// on resources (to atomically spill oversize content).
type Store struct {
	db        *sql.DB
	registry  *registry.Registry
	resources *resources.Store
	threshold int
}

// New wraps db for context-store operations. threshold is the content
// length (in UTF-8 bytes) above which a message is auto-resourced.
func New(db *sql.DB, reg *registry.Registry, res *resources.Store, threshold int) *Store {
	return &Store{db: db, registry: reg, resources: res, threshold: threshold}
}

// SendOptions customizes a single channel.send call.
type SendOptions struct {
	To               string // when set, overrides recipients to exactly [To]
	SkipAutoResource bool   // kickoff/system messages pass true to arrive in full
	Kind             domain.MessageKind
}

// SendResult is what channel.send returns so the caller (the HTTP layer)
// can fan out wake signals — the context store itself never talks to the
// scheduler.
type SendResult struct {
	ID         string
	Recipients []string
}

const resourceRewritePreviewRunes = 200

// Send performs the full channel.send contract from spec §4.3, steps 1-7,
// atomically: mention resolution, optional auto-resourcing, and the
// message insert happen under one transaction so a crash never leaves a
// dangling resource reference.
func (s *Store) Send(sender, content, workflow, tag string, opts SendOptions) (SendResult, error) {
	names, err := s.registry.ListAgentNames(workflow, tag)
	if err != nil {
		return SendResult{}, err
	}
	valid := make(map[string]bool, len(names)+1)
	for _, n := range names {
		valid[n] = true
	}
	valid[AllRecipient] = true

	mentions := parseMentions(content, valid)

	var recipients []string
	if containsAll(mentions) {
		for _, n := range names {
			if n != sender {
				recipients = append(recipients, n)
			}
		}
	} else {
		recipients = mentions
	}

	to := opts.To
	if to != "" {
		recipients = []string{to}
	}

	kind := opts.Kind
	if kind == "" {
		kind = domain.MessageKindMessage
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SendResult{}, err
	}
	defer tx.Rollback()

	storedContent := content
	if !opts.SkipAutoResource && len(content) > s.threshold {
		res, err := resources.Create(tx, content, domain.ResourceText, sender, workflow, tag)
		if err != nil {
			return SendResult{}, fmt.Errorf("auto-resource content: %w", err)
		}
		storedContent = fmt.Sprintf("[Resource %s]: %s…", res.ID, truncateRunes(content, resourceRewritePreviewRunes))
	}

	id := "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	_, err = tx.Exec(
		`INSERT INTO messages (id, sender, workflow, tag, content, recipients, kind, to_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sender, workflow, tag, storedContent, joinRecipients(recipients), kind, to, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return SendResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return SendResult{}, err
	}

	return SendResult{ID: id, Recipients: recipients}, nil
}

// ReadOptions customizes a channel.read call.
type ReadOptions struct {
	Since string // a message id; resolved to its sequence number
	Limit int
	Agent string // when set, enforces DM visibility filtering
}

// Read returns channel messages in chronological order per spec §4.3.
func (s *Store) Read(workflow, tag string, opts ReadOptions) ([]domain.Message, error) {
	sinceSeq := int64(0)
	if opts.Since != "" {
		row := s.db.QueryRow(`SELECT seq FROM messages WHERE id = ?`, opts.Since)
		if err := row.Scan(&sinceSeq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, kernelerr.NotFoundf("cursor message %s not found", opts.Since)
			}
			return nil, err
		}
	}

	rows, err := s.db.Query(
		`SELECT seq, id, sender, workflow, tag, content, recipients, kind, to_agent, created_at
		 FROM messages WHERE workflow = ? AND tag = ? AND seq > ? ORDER BY seq ASC`,
		workflow, tag, sinceSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if opts.Agent != "" && !dmVisible(msg, opts.Agent) {
			continue
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// dmVisible implements the DM privacy rule: a message with To set is
// visible only to its sender and its target.
func dmVisible(m domain.Message, agent string) bool {
	if m.To == "" {
		return true
	}
	return agent == m.Sender || agent == m.To
}

func containsAll(mentions []string) bool {
	for _, m := range mentions {
		if m == AllRecipient {
			return true
		}
	}
	return false
}

func joinRecipients(r []string) string {
	return strings.Join(r, ",")
}

func splitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (domain.Message, error) {
	var m domain.Message
	var recipients, createdAt string
	if err := row.Scan(&m.Sequence, &m.ID, &m.Sender, &m.Workflow, &m.Tag, &m.Content, &recipients, &m.Kind, &m.To, &createdAt); err != nil {
		return domain.Message{}, err
	}
	m.Recipients = splitRecipients(recipients)
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

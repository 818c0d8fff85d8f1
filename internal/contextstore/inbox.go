package contextstore

import (
	"database/sql"
	"errors"
	"regexp"

	"github.com/halvorsen/agentkernel/internal/domain"
)

// urgentKeywordPattern drives the "high" priority classification for
// inbox entries (spec §4.3).
var urgentKeywordPattern = regexp.MustCompile(`(?i)\b(urgent|asap|blocked|critical)\b`)

// cursor returns the agent's acknowledged sequence number, and whether a
// cursor row exists at all (absence means "never acknowledged").
func (s *Store) cursor(agent, workflow, tag string) (int64, bool, error) {
	row := s.db.QueryRow(`SELECT cursor FROM inbox_ack WHERE agent = ? AND workflow = ? AND tag = ?`, agent, workflow, tag)
	var c int64
	if err := row.Scan(&c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return c, true, nil
}

// unreadFor returns every message in (workflow, tag) addressed to agent
// (directly or via "all"), excluding agent's own messages, with sequence
// strictly greater than its cursor — ordered ascending, exactly the set
// inbox.query and inbox.ackAll both need.
func (s *Store) unreadFor(agent, workflow, tag string) ([]domain.Message, error) {
	since, _, err := s.cursor(agent, workflow, tag)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT seq, id, sender, workflow, tag, content, recipients, kind, to_agent, created_at
		 FROM messages WHERE workflow = ? AND tag = ? AND sender != ? AND seq > ? ORDER BY seq ASC`,
		workflow, tag, agent, since,
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
		if msg.HasRecipient(agent) || msg.HasRecipient(AllRecipient) {
			out = append(out, msg)
		}
	}
	return out, rows.Err()
}

// Query returns the unread, prioritised inbox for an agent (spec §4.3).
func (s *Store) Query(agent, workflow, tag string) ([]domain.InboxEntry, error) {
	msgs, err := s.unreadFor(agent, workflow, tag)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.InboxEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, domain.InboxEntry{Message: m, Priority: priorityOf(m)})
	}
	return entries, nil
}

func priorityOf(m domain.Message) domain.Priority {
	if len(m.Recipients) > 1 || urgentKeywordPattern.MatchString(m.Content) {
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}

// Ack upserts the agent's cursor to the sequence of messageID. A no-op if
// messageID does not resolve to a message.
func (s *Store) Ack(agent, workflow, tag, messageID string) error {
	row := s.db.QueryRow(`SELECT seq FROM messages WHERE id = ?`, messageID)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return s.ackToSeq(agent, workflow, tag, seq)
}

// AckAll advances the cursor to the last qualifying unread message, or is
// a no-op if the inbox is empty.
func (s *Store) AckAll(agent, workflow, tag string) error {
	msgs, err := s.unreadFor(agent, workflow, tag)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	return s.ackToSeq(agent, workflow, tag, last.Sequence)
}

func (s *Store) ackToSeq(agent, workflow, tag string, seq int64) error {
	_, err := s.db.Exec(
		`INSERT INTO inbox_ack (agent, workflow, tag, cursor) VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent, workflow, tag) DO UPDATE SET cursor = excluded.cursor`,
		agent, workflow, tag, seq,
	)
	return err
}

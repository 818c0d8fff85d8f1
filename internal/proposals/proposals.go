// Package proposals implements the voting subsystem (spec §4.5): a
// state machine over three resolution rules (plurality, majority,
// unanimous) evaluated against an eligibility pool drawn from the
// registry.
package proposals

import (
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/registry"
)

// Store is the proposal + vote state machine.
type Store struct {
	db       *sql.DB
	registry *registry.Registry
}

// New wraps db and a registry (for eligibility-pool size) for proposal
// operations.
func New(db *sql.DB, reg *registry.Registry) *Store {
	return &Store{db: db, registry: reg}
}

// NewID allocates a fresh "prop_<id>" identifier.
func NewID() string {
	return "prop_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// CreateInput is the set of user-suppliable proposal fields.
type CreateInput struct {
	Workflow   string
	Tag        string
	Type       domain.ProposalType
	Title      string
	Options    []string
	Resolution domain.ResolutionRule
	Binding    *bool // nil defaults to true
	Creator    string
}

// Create validates and inserts a new active proposal.
func (s *Store) Create(in CreateInput) (domain.Proposal, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Proposal{}, kernelerr.Validationf("proposal title is required")
	}
	if len(in.Options) == 0 {
		return domain.Proposal{}, kernelerr.Validationf("proposal must have at least one option")
	}
	for _, o := range in.Options {
		if strings.TrimSpace(o) == "" {
			return domain.Proposal{}, kernelerr.Validationf("proposal options must be non-empty strings")
		}
	}
	if in.Creator == "" {
		return domain.Proposal{}, kernelerr.Validationf("proposal creator is required")
	}

	resolution := in.Resolution
	if resolution == "" {
		resolution = domain.ResolutionPlurality
	}
	binding := true
	if in.Binding != nil {
		binding = *in.Binding
	}
	typ := in.Type
	if typ == "" {
		typ = domain.ProposalDecision
	}

	p := domain.Proposal{
		ID: NewID(), Workflow: in.Workflow, Tag: in.Tag, Type: typ, Title: in.Title,
		Options: in.Options, Resolution: resolution, Binding: binding,
		Status: domain.ProposalActive, Creator: in.Creator, CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO proposals (id, workflow, tag, type, title, options, resolution, binding, status, creator, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Workflow, p.Tag, p.Type, p.Title, strings.Join(p.Options, "\x1f"),
		p.Resolution, boolToInt(p.Binding), p.Status, p.Creator, p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// Get fetches a proposal by id.
func (s *Store) Get(id string) (domain.Proposal, error) {
	row := s.db.QueryRow(
		`SELECT id, workflow, tag, type, title, options, resolution, binding, status, creator, result, created_at, resolved_at
		 FROM proposals WHERE id = ?`, id,
	)
	return scanProposal(row)
}

// VoteResult is what a successful Vote call returns.
type VoteResult struct {
	Success  bool
	Resolved bool
	Result   string
}

// Vote upserts an agent's choice and re-evaluates resolution (spec §4.5).
func (s *Store) Vote(proposalID, agent, choice, reason string) (VoteResult, error) {
	p, err := s.Get(proposalID)
	if err != nil {
		return VoteResult{}, err
	}
	if p.Status != domain.ProposalActive {
		return VoteResult{}, kernelerr.Validationf("proposal %s is not active", proposalID)
	}
	if !p.HasOption(choice) {
		return VoteResult{}, kernelerr.Validationf("%q is not a valid option for proposal %s", choice, proposalID)
	}

	_, err = s.db.Exec(
		`INSERT INTO votes (proposal_id, agent, choice, reason, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(proposal_id, agent) DO UPDATE SET choice = excluded.choice, reason = excluded.reason, created_at = excluded.created_at`,
		proposalID, agent, choice, reason, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return VoteResult{}, err
	}

	tally, votesCast, err := s.tally(proposalID)
	if err != nil {
		return VoteResult{}, err
	}

	eligibleCount, err := s.eligibleCount(p.Workflow, p.Tag)
	if err != nil {
		return VoteResult{}, err
	}
	if eligibleCount == 0 {
		eligibleCount = votesCast
	}

	top, topCount := leadingOption(tally)
	resolved := false
	switch p.Resolution {
	case domain.ResolutionMajority:
		resolved = topCount > eligibleCount/2
	case domain.ResolutionUnanimous:
		resolved = topCount == eligibleCount && votesCast == eligibleCount
	default: // plurality
		resolved = votesCast >= 2
	}

	result := VoteResult{Success: true}
	if resolved && top != "" {
		if err := s.resolve(proposalID, top); err != nil {
			return VoteResult{}, err
		}
		result.Resolved = true
		result.Result = top
	}
	return result, nil
}

// Cancel transitions an active proposal to cancelled. Only the creator
// may cancel.
func (s *Store) Cancel(proposalID, actor string) error {
	p, err := s.Get(proposalID)
	if err != nil {
		return err
	}
	if p.Creator != actor {
		return kernelerr.Validationf("only the creator may cancel proposal %s", proposalID)
	}
	if p.Status != domain.ProposalActive {
		return kernelerr.Validationf("proposal %s is not active", proposalID)
	}
	_, err = s.db.Exec(`UPDATE proposals SET status = ? WHERE id = ?`, domain.ProposalCancelled, proposalID)
	return err
}

func (s *Store) resolve(proposalID, result string) error {
	_, err := s.db.Exec(
		`UPDATE proposals SET status = ?, result = ?, resolved_at = ? WHERE id = ?`,
		domain.ProposalResolved, result, time.Now().Format(time.RFC3339Nano), proposalID,
	)
	return err
}

func (s *Store) tally(proposalID string) (map[string]int, int, error) {
	rows, err := s.db.Query(`SELECT choice, COUNT(*) FROM votes WHERE proposal_id = ? GROUP BY choice`, proposalID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tally := map[string]int{}
	total := 0
	for rows.Next() {
		var choice string
		var count int
		if err := rows.Scan(&choice, &count); err != nil {
			return nil, 0, err
		}
		tally[choice] = count
		total += count
	}
	return tally, total, rows.Err()
}

func (s *Store) eligibleCount(workflow, tag string) (int, error) {
	names, err := s.registry.ListAgentNames(workflow, tag)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// leadingOption returns the highest-count option, breaking ties
// alphabetically for determinism (spec §9 open question).
func leadingOption(tally map[string]int) (string, int) {
	if len(tally) == 0 {
		return "", 0
	}
	options := make([]string, 0, len(tally))
	for o := range tally {
		options = append(options, o)
	}
	sort.Strings(options)

	top, topCount := "", -1
	for _, o := range options {
		if tally[o] > topCount {
			top, topCount = o, tally[o]
		}
	}
	return top, topCount
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanProposal(row interface{ Scan(dest ...any) error }) (domain.Proposal, error) {
	var p domain.Proposal
	var options, createdAt, resolvedAt string
	var binding int
	if err := row.Scan(&p.ID, &p.Workflow, &p.Tag, &p.Type, &p.Title, &options, &p.Resolution,
		&binding, &p.Status, &p.Creator, &p.Result, &createdAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Proposal{}, kernelerr.NotFoundf("proposal not found")
		}
		return domain.Proposal{}, err
	}
	p.Options = strings.Split(options, "\x1f")
	p.Binding = binding != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resolvedAt != "" {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt)
		p.ResolvedAt = &t
	}
	return p, nil
}

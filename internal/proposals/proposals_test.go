package proposals

import (
	"path/filepath"
	"testing"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/storage"
)

func newTestStore(t *testing.T, agents ...string) (*Store, *registry.Registry) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := registry.New(db)
	for _, a := range agents {
		if _, err := reg.CreateAgent(registry.CreateAgentInput{Name: a, Workflow: "w", Tag: "t"}); err != nil {
			t.Fatalf("CreateAgent(%s): %v", a, err)
		}
	}
	return New(db, reg), reg
}

// S5 — plurality resolution.
func TestPluralityResolvesOnSecondVote(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob", "charlie")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "pick a framework", Options: []string{"React", "Vue"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r1, err := s.Vote(p.ID, "alice", "React", "")
	if err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if r1.Resolved {
		t.Fatalf("should not resolve after one vote: %+v", r1)
	}

	r2, err := s.Vote(p.ID, "bob", "React", "")
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if !r2.Resolved || r2.Result != "React" {
		t.Fatalf("expected resolved=true result=React, got %+v", r2)
	}

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.ProposalResolved || got.Result != "React" {
		t.Fatalf("proposal = %+v, want resolved/React", got)
	}
}

func TestZeroVotesNeverResolves(t *testing.T) {
	s, _ := newTestStore(t, "alice")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A", "B"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.ProposalActive {
		t.Fatalf("status = %q, want active with zero votes", got.Status)
	}
}

func TestMajorityRequiresTwoIdenticalVotesWithTwoEligible(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A", "B"}, Resolution: domain.ResolutionMajority, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r1, err := s.Vote(p.ID, "alice", "A", "")
	if err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if r1.Resolved {
		t.Fatalf("majority should not resolve on one of two votes: %+v", r1)
	}

	r2, err := s.Vote(p.ID, "bob", "A", "")
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if !r2.Resolved || r2.Result != "A" {
		t.Fatalf("expected majority resolved with A, got %+v", r2)
	}
}

func TestUnanimousOneDisagreeingVoteNeverResolves(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A", "B"}, Resolution: domain.ResolutionUnanimous, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Vote(p.ID, "alice", "A", ""); err != nil {
		t.Fatalf("vote alice: %v", err)
	}
	r, err := s.Vote(p.ID, "bob", "B", "")
	if err != nil {
		t.Fatalf("vote bob: %v", err)
	}
	if r.Resolved {
		t.Fatalf("disagreeing vote must not resolve unanimous proposal: %+v", r)
	}
	got, _ := s.Get(p.ID)
	if got.Status != domain.ProposalActive {
		t.Fatalf("status = %q, want still active", got.Status)
	}
}

func TestVoteOnInactiveProposalFails(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Cancel(p.ID, "alice"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = s.Vote(p.ID, "bob", "A", "")
	if kernelerr.KindOf(err) != kernelerr.Validation {
		t.Fatalf("expected Validation error voting on cancelled proposal, got %v", err)
	}
}

func TestVoteInvalidChoiceFails(t *testing.T) {
	s, _ := newTestStore(t, "alice")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A", "B"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.Vote(p.ID, "alice", "C", "")
	if kernelerr.KindOf(err) != kernelerr.Validation {
		t.Fatalf("expected Validation error for invalid option, got %v", err)
	}
}

func TestCancelOnlyByCreator(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"A"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = s.Cancel(p.ID, "bob")
	if kernelerr.KindOf(err) != kernelerr.Validation {
		t.Fatalf("expected non-creator cancel to fail validation, got %v", err)
	}
}

func TestTieBreaksAlphabetically(t *testing.T) {
	s, _ := newTestStore(t, "alice", "bob", "charlie", "dave")
	p, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: []string{"Zeta", "Alpha"}, Resolution: domain.ResolutionUnanimous, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// No votes are cast on the unanimous proposal p; the tie-break path is
	// exercised via plurality on a separate proposal.
	_ = p

	p2, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "y", Options: []string{"Zeta", "Alpha"}, Creator: "alice"})
	if err != nil {
		t.Fatalf("Create p2: %v", err)
	}
	if _, err := s.Vote(p2.ID, "alice", "Zeta", ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	r, err := s.Vote(p2.ID, "bob", "Alpha", "")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !r.Resolved || r.Result != "Alpha" {
		t.Fatalf("expected alphabetical tie-break to pick Alpha, got %+v", r)
	}
}

func TestCreateRejectsEmptyOptions(t *testing.T) {
	s, _ := newTestStore(t, "alice")
	_, err := s.Create(CreateInput{Workflow: "w", Tag: "t", Title: "x", Options: nil, Creator: "alice"})
	if kernelerr.KindOf(err) != kernelerr.Validation {
		t.Fatalf("expected Validation error for empty options, got %v", err)
	}
}

package registry

import (
	"path/filepath"
	"testing"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestEnsureGlobalWorkflowIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.EnsureGlobalWorkflow(); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := r.EnsureGlobalWorkflow(); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	workflows, err := r.ListWorkflows()
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(workflows) != 1 {
		t.Fatalf("len(workflows) = %d, want 1", len(workflows))
	}
	if workflows[0].Name != domain.GlobalWorkflowName || workflows[0].Tag != domain.GlobalWorkflowTag {
		t.Errorf("workflow = %+v, want (global, main)", workflows[0])
	}
}

func TestCreateAgentRoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	in := CreateAgentInput{
		Name: "alice", Workflow: "review", Tag: "pr-1", Model: "gpt-5", Backend: domain.BackendClaude,
		SystemPrompt: "be nice", Provider: &domain.ProviderConfig{Name: "openai"},
		Schedule: &domain.Schedule{IntervalSeconds: 30}, Config: `{"x":1}`,
	}
	created, err := r.CreateAgent(in)
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	got, err := r.GetAgent("alice", "review", "pr-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != created.Name || got.Model != created.Model || got.Backend != created.Backend {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, created)
	}
	if got.Provider == nil || got.Provider.Name != "openai" {
		t.Errorf("provider round-trip failed: %+v", got.Provider)
	}
	if got.Schedule == nil || got.Schedule.IntervalSeconds != 30 {
		t.Errorf("schedule round-trip failed: %+v", got.Schedule)
	}
}

func TestCreateAgentAppliesDefaults(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.CreateAgent(CreateAgentInput{Name: "solo"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.Workflow != domain.GlobalWorkflowName || created.Tag != domain.GlobalWorkflowTag {
		t.Errorf("expected default workflow scope, got %s:%s", created.Workflow, created.Tag)
	}
	if created.Backend != domain.BackendDefault {
		t.Errorf("Backend = %q, want default", created.Backend)
	}
	if created.State != domain.AgentIdle {
		t.Errorf("State = %q, want idle", created.State)
	}
}

func TestCreateAgentDuplicateConflicts(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateAgent(CreateAgentInput{Name: "bob", Workflow: "w", Tag: "t"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := r.CreateAgent(CreateAgentInput{Name: "bob", Workflow: "w", Tag: "t"})
	if err == nil {
		t.Fatal("expected duplicate create to fail")
	}
	if kernelerr.KindOf(err) != kernelerr.Conflict {
		t.Errorf("kind = %v, want Conflict", kernelerr.KindOf(err))
	}
}

func TestGetAgentNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetAgent("nobody", "w", "t")
	if kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Errorf("kind = %v, want NotFound", kernelerr.KindOf(err))
	}
}

func TestListAgentsScoping(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "alice", "w1", "t1")
	mustCreate(t, r, "bob", "w1", "t1")
	mustCreate(t, r, "charlie", "w2", "t1")

	scoped, err := r.ListAgents("w1", "t1")
	if err != nil {
		t.Fatalf("ListAgents scoped: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("len(scoped) = %d, want 2", len(scoped))
	}

	all, err := r.ListAgents("", "")
	if err != nil {
		t.Fatalf("ListAgents all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestUpdateAgentStateNoopWhenAbsent(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.UpdateAgentState("ghost", "w", "t", domain.AgentRunning); err != nil {
		t.Errorf("expected no-op, got error: %v", err)
	}
}

func mustCreate(t *testing.T, r *Registry, name, workflow, tag string) {
	t.Helper()
	if _, err := r.CreateAgent(CreateAgentInput{Name: name, Workflow: workflow, Tag: tag}); err != nil {
		t.Fatalf("CreateAgent(%s): %v", name, err)
	}
}

package contextstore

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/resources"
	"github.com/halvorsen/agentkernel/internal/storage"
)

func newTestStore(t *testing.T, threshold int) (*Store, *registry.Registry) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db)
	if err := reg.EnsureGlobalWorkflow(); err != nil {
		t.Fatalf("EnsureGlobalWorkflow: %v", err)
	}
	res := resources.New(db)
	return New(db, reg, res, threshold), reg
}

func seedAgents(t *testing.T, reg *registry.Registry, workflow, tag string, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := reg.CreateAgent(registry.CreateAgentInput{Name: n, Workflow: workflow, Tag: tag}); err != nil {
			t.Fatalf("CreateAgent(%s): %v", n, err)
		}
	}
}

// S1 — mention fan-out.
func TestMentionFanOut(t *testing.T) {
	store, reg := newTestStore(t, 1200)
	seedAgents(t, reg, "review", "pr-1", "alice", "bob", "charlie")

	result, err := store.Send("alice", "@bob please review", "review", "pr-1", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Recipients) != 1 || result.Recipients[0] != "bob" {
		t.Fatalf("Recipients = %v, want [bob]", result.Recipients)
	}

	bobInbox, err := store.Query("bob", "review", "pr-1")
	if err != nil {
		t.Fatalf("Query(bob): %v", err)
	}
	if len(bobInbox) != 1 {
		t.Fatalf("len(bobInbox) = %d, want 1", len(bobInbox))
	}

	charlieInbox, err := store.Query("charlie", "review", "pr-1")
	if err != nil {
		t.Fatalf("Query(charlie): %v", err)
	}
	if len(charlieInbox) != 0 {
		t.Fatalf("len(charlieInbox) = %d, want 0", len(charlieInbox))
	}
}

// S2 — @all expansion.
func TestAllExpansion(t *testing.T) {
	store, reg := newTestStore(t, 1200)
	seedAgents(t, reg, "review", "pr-1", "alice", "bob", "charlie")

	result, err := store.Send("alice", "@all sync up", "review", "pr-1", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := map[string]bool{"bob": true, "charlie": true}
	if len(result.Recipients) != 2 {
		t.Fatalf("Recipients = %v, want exactly bob,charlie", result.Recipients)
	}
	for _, r := range result.Recipients {
		if r == "alice" {
			t.Fatalf("sender must not be in resolved 'all' recipients: %v", result.Recipients)
		}
		if !want[r] {
			t.Fatalf("unexpected recipient %q", r)
		}
	}

	for _, name := range []string{"bob", "charlie"} {
		inbox, err := store.Query(name, "review", "pr-1")
		if err != nil {
			t.Fatalf("Query(%s): %v", name, err)
		}
		if len(inbox) != 1 {
			t.Errorf("len(inbox[%s]) = %d, want 1", name, len(inbox))
		}
	}
}

// S3 — auto-resource.
func TestAutoResource(t *testing.T) {
	store, reg := newTestStore(t, 1200)
	seedAgents(t, reg, "global", "main", "alice")

	big := strings.Repeat("x", 1500)
	result, err := store.Send("alice", big, "global", "main", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := store.Read("global", "main", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Content, "[Resource res_") {
		t.Fatalf("content = %q, want [Resource res_ prefix", msgs[0].Content)
	}

	resStore := resources.New(store.db)
	_ = result
	// Extract the resource id from the rewritten content and verify round-trip.
	id := msgs[0].Content[len("[Resource ") : len("[Resource ")+len("res_")+12]
	got, err := resStore.Read(id)
	if err != nil {
		t.Fatalf("resources.Read(%s): %v", id, err)
	}
	if got.Content != big {
		t.Errorf("resource content length = %d, want %d", len(got.Content), len(big))
	}
}

func TestThresholdBoundary(t *testing.T) {
	store, reg := newTestStore(t, 10)
	seedAgents(t, reg, "global", "main", "alice")

	atThreshold := strings.Repeat("x", 10)
	if _, err := store.Send("alice", atThreshold, "global", "main", SendOptions{}); err != nil {
		t.Fatalf("Send at threshold: %v", err)
	}
	overThreshold := strings.Repeat("y", 11)
	if _, err := store.Send("alice", overThreshold, "global", "main", SendOptions{}); err != nil {
		t.Fatalf("Send over threshold: %v", err)
	}

	msgs, err := store.Read("global", "main", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msgs[0].Content != atThreshold {
		t.Errorf("message at threshold should be verbatim, got %q", msgs[0].Content)
	}
	if !strings.HasPrefix(msgs[1].Content, "[Resource ") {
		t.Errorf("message over threshold should be auto-resourced, got %q", msgs[1].Content)
	}
}

func TestSkipAutoResourceDeliversVerbatim(t *testing.T) {
	store, reg := newTestStore(t, 10)
	seedAgents(t, reg, "global", "main", "alice")

	content := strings.Repeat("z", 100)
	if _, err := store.Send("alice", content, "global", "main", SendOptions{SkipAutoResource: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs, err := store.Read("global", "main", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msgs[0].Content != content {
		t.Errorf("kickoff-style message should be verbatim, got %q", msgs[0].Content)
	}
}

// S7 — DM visibility.
func TestDMVisibility(t *testing.T) {
	store, reg := newTestStore(t, 1200)
	seedAgents(t, reg, "global", "main", "alice", "bob", "charlie")

	if _, err := store.Send("alice", "secret", "global", "main", SendOptions{To: "bob"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	charlieView, err := store.Read("global", "main", ReadOptions{Agent: "charlie"})
	if err != nil {
		t.Fatalf("Read(charlie): %v", err)
	}
	if len(charlieView) != 0 {
		t.Fatalf("charlie should not see the DM, got %v", charlieView)
	}

	for _, agent := range []string{"alice", "bob"} {
		view, err := store.Read("global", "main", ReadOptions{Agent: agent})
		if err != nil {
			t.Fatalf("Read(%s): %v", agent, err)
		}
		if len(view) != 1 {
			t.Fatalf("%s should see the DM, got %v", agent, view)
		}
	}
}


package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/resources"
	"github.com/halvorsen/agentkernel/internal/storage"
)

type fakeRunner struct {
	output string
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, agent, workflow, tag, prompt string) (string, error) {
	f.calls++
	return f.output, f.err
}

type noopWaker struct{ woke []string }

func (w *noopWaker) Wake(agent, workflow, tag string) { w.woke = append(w.woke, agent) }

func newTestStore(t *testing.T, agents ...string) *contextstore.Store {
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
	res := resources.New(db)
	return contextstore.New(db, reg, res, 1200)
}

// S4 — a message addressed to an agent triggers a run whose reply is
// delivered back into the channel and the recipient's inbox is acked.
func TestSchedulerRunsOnUnreadAndAcks(t *testing.T) {
	store := newTestStore(t, "alice", "reviewer")
	if _, err := store.Send("alice", "@reviewer please check this PR", "w", "t", contextstore.SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	runner := &fakeRunner{output: "reviewed"}
	waker := &noopWaker{}
	sched := New("reviewer", "w", "t", store, runner, waker, nil, time.Hour, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	sched.Wake()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.calls > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if runner.calls == 0 {
		t.Fatal("expected scheduler to run the worker at least once")
	}

	// Give the send + ack steps a moment to land.
	time.Sleep(100 * time.Millisecond)

	entries, err := store.Query("reviewer", "w", "t")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected reviewer's inbox to be acked, got %d unread", len(entries))
	}

	msgs, err := store.Read("w", "t", contextstore.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var sawReply bool
	for _, m := range msgs {
		if m.Sender == "reviewer" && m.Content == "reviewed" {
			sawReply = true
		}
	}
	if !sawReply {
		t.Error("expected reviewer's reply to appear on the channel")
	}
}

func TestSchedulerForceAcksAfterMaxRetries(t *testing.T) {
	store := newTestStore(t, "alice", "reviewer")
	if _, err := store.Send("alice", "@reviewer hello", "w", "t", contextstore.SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	runner := &fakeRunner{err: errRun{"boom"}}
	sched := New("reviewer", "w", "t", store, runner, nil, nil, time.Hour, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sched.Wake()
		entries, err := store.Query("reviewer", "w", "t")
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(entries) == 0 && runner.calls >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected inbox to be force-acked after max retries, calls=%d", runner.calls)
}

type errRun struct{ msg string }

func (e errRun) Error() string { return e.msg }

package process

import (
	"context"
	"testing"
	"time"
)

func TestRunReturnsIPCResult(t *testing.T) {
	m := New(nil, 5*time.Second)
	cfg := WorkerConfig{
		Agent:   "alice",
		Command: "/bin/sh",
		Args:    []string{"-c", `echo '{"type":"result","data":{"ok":true}}'`},
	}
	res, err := m.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Data) != `{"ok":true}` {
		t.Errorf("Data = %s, want {\"ok\":true}", res.Data)
	}
}

func TestRunSurfacesIPCError(t *testing.T) {
	m := New(nil, 5*time.Second)
	cfg := WorkerConfig{
		Agent:   "alice",
		Command: "/bin/sh",
		Args:    []string{"-c", `echo '{"type":"error","error":"rate limit exceeded"}'`},
	}
	_, err := m.Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	runErr, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if runErr.Class != FailureQuotaExhausted {
		t.Errorf("Class = %s, want quota_exhausted", runErr.Class)
	}
}

func TestRunTimesOutAndKills(t *testing.T) {
	m := New(nil, 50*time.Millisecond)
	cfg := WorkerConfig{
		Agent:   "alice",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
	}
	_, err := m.Run(context.Background(), cfg)
	runErr, ok := err.(*RunError)
	if !ok || !runErr.TimedOut {
		t.Fatalf("expected timeout RunError, got %v", err)
	}
}

func TestRunNonZeroExitIsTransient(t *testing.T) {
	m := New(nil, 5*time.Second)
	cfg := WorkerConfig{
		Agent:   "alice",
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 1"},
	}
	_, err := m.Run(context.Background(), cfg)
	runErr, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if runErr.Class != FailureTransient {
		t.Errorf("Class = %s, want transient", runErr.Class)
	}
}

func TestBuildEnvInheritsGlobAndSetsIdentity(t *testing.T) {
	t.Setenv("AGENTKERNEL_TEST_AWS_KEY", "secret")
	cfg := WorkerConfig{
		Agent: "alice", Workflow: "w", Tag: "t",
		InheritEnv:   []string{"AGENTKERNEL_TEST_AWS_*"},
		DaemonMCPURL: "http://127.0.0.1:9/mcp",
	}
	env := buildEnv(cfg)
	var sawInherited, sawIdentity bool
	for _, kv := range env {
		if kv == "AGENTKERNEL_TEST_AWS_KEY=secret" {
			sawInherited = true
		}
		if kv == "AGENTKERNEL_AGENT=alice" {
			sawIdentity = true
		}
	}
	if !sawInherited {
		t.Error("expected glob-matched env var to be inherited")
	}
	if !sawIdentity {
		t.Error("expected AGENTKERNEL_AGENT identity var to be set")
	}
}

func TestExpandTemplates(t *testing.T) {
	cfg := WorkerConfig{Agent: "alice", Workflow: "w", Tag: "t", Workspace: "/tmp/ws"}
	got := expandTemplates("--workdir={workspace} --agent={agent}", cfg)
	want := "--workdir=/tmp/ws --agent=alice"
	if got != want {
		t.Errorf("expandTemplates = %q, want %q", got, want)
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, failureBackoffBase},
		{2, failureBackoffBase * 2},
		{10, failureBackoffMax},
	}
	for _, c := range cases {
		if got := BackoffFor(c.n); got != c.want {
			t.Errorf("BackoffFor(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

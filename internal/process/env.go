package process

import (
	"os"
	"strings"
)

// WorkerConfig describes how to launch a single worker subprocess for an
// agent (spec §4.6).
type WorkerConfig struct {
	Agent        string
	Workflow     string
	Tag          string
	Command      string   // executable path or PATH-resolved name; there is no default, an empty Command fails to start
	Args         []string // template strings, expanded via expandTemplates
	Env          map[string]string
	InheritEnv   []string // glob patterns of host env vars to pass through, e.g. "PATH", "HOME", "AWS_*"
	Workspace    string   // working directory for the subprocess
	DaemonMCPURL string   // base URL the worker calls back on for tools
	Timeout      int64    // seconds; 0 uses the manager default
}

// expandTemplates substitutes "{agent}", "{workflow}", "{tag}" and
// "{workspace}" placeholders the way the teacher's worker template
// expansion does for its own workspace-relative arguments.
func expandTemplates(s string, cfg WorkerConfig) string {
	replacer := strings.NewReplacer(
		"{agent}", cfg.Agent,
		"{workflow}", cfg.Workflow,
		"{tag}", cfg.Tag,
		"{workspace}", cfg.Workspace,
	)
	return replacer.Replace(s)
}

// buildEnv assembles the subprocess environment: host vars matching
// InheritEnv glob patterns, then cfg.Env overrides, then the fixed
// AGENTKERNEL_* identity vars a worker needs to call back into the
// daemon's tool dispatcher.
func buildEnv(cfg WorkerConfig) []string {
	var out []string

	for _, pattern := range cfg.InheritEnv {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			if matchGlob(pattern, k) {
				out = append(out, k+"="+v)
			}
		}
	}

	for k, v := range cfg.Env {
		out = append(out, k+"="+expandTemplates(v, cfg))
	}

	out = append(out,
		"AGENTKERNEL_AGENT="+cfg.Agent,
		"AGENTKERNEL_WORKFLOW="+cfg.Workflow,
		"AGENTKERNEL_TAG="+cfg.Tag,
		"AGENTKERNEL_MCP_URL="+cfg.DaemonMCPURL,
	)
	return out
}

// matchGlob supports a single trailing "*" wildcard, which covers every
// InheritEnv pattern this kernel needs ("AWS_*", "PATH", ...) without
// pulling in a globbing library for a one-character pattern.
func matchGlob(pattern, name string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halvorsen/agentkernel/internal/contextstore"
)

type key struct{ agent, workflow, tag string }

// Manager owns the collection of per-agent schedulers. Callers never see
// the underlying map: every interaction goes through Start/Stop/Wake/
// StopAll/AllIdle, so the run loops stay the only code that touches a
// given Scheduler's internal channels (spec §9 REDESIGN FLAGS).
type Manager struct {
	store        *contextstore.Store
	runnerFunc   func(agent, workflow, tag string) Runner
	logger       *log.Logger
	pollInterval time.Duration
	maxRetries   int

	mu         sync.Mutex
	schedulers map[key]*Scheduler
	cancel     map[key]context.CancelFunc
}

// NewManager creates a scheduler manager. runnerFunc builds a Runner for
// a given agent identity, letting callers bind in a process.Manager
// closed over per-agent worker configuration.
func NewManager(store *contextstore.Store, runnerFunc func(agent, workflow, tag string) Runner, logger *log.Logger, pollInterval time.Duration, maxRetries int) *Manager {
	return &Manager{
		store: store, runnerFunc: runnerFunc, logger: logger,
		pollInterval: pollInterval, maxRetries: maxRetries,
		schedulers: map[key]*Scheduler{},
		cancel:     map[key]context.CancelFunc{},
	}
}

// Start begins scheduling an agent if it is not already running.
func (m *Manager) Start(ctx context.Context, agent, workflow, tag string) {
	k := key{agent, workflow, tag}

	m.mu.Lock()
	if _, exists := m.schedulers[k]; exists {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	sched := New(agent, workflow, tag, m.store, m.runnerFunc(agent, workflow, tag), m, m.logger,
		m.pollInterval, m.maxRetries)
	m.schedulers[k] = sched
	m.cancel[k] = cancel
	m.mu.Unlock()

	sched.Start(runCtx)
}

// Stop ends one agent's scheduler and forgets it.
func (m *Manager) Stop(agent, workflow, tag string) {
	k := key{agent, workflow, tag}
	m.mu.Lock()
	sched, exists := m.schedulers[k]
	cancel := m.cancel[k]
	delete(m.schedulers, k)
	delete(m.cancel, k)
	m.mu.Unlock()

	if exists {
		sched.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Wake implements the Waker interface other schedulers use to nudge a
// message recipient into checking its inbox immediately.
func (m *Manager) Wake(agent, workflow, tag string) {
	m.mu.Lock()
	sched, exists := m.schedulers[key{agent, workflow, tag}]
	m.mu.Unlock()
	if exists {
		sched.Wake()
	}
}

// StopAll ends every running scheduler, used during daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	keys := make([]key, 0, len(m.schedulers))
	for k := range m.schedulers {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.Stop(k.agent, k.workflow, k.tag)
	}
}

// AllIdle reports whether every managed scheduler is currently idle or
// stopped; the workflow status endpoint reports it as all_idle.
func (m *Manager) AllIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sched := range m.schedulers {
		if sched.Status() == StateRunning {
			return false
		}
	}
	return true
}

// IsRunning reports whether a given agent has an active scheduler.
func (m *Manager) IsRunning(agent, workflow, tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedulers[key{agent, workflow, tag}]
	return exists
}

// Package scheduler implements the per-agent scheduling loop (spec §4.7):
// one goroutine per (agent, workflow, tag) driven by an internal
// {tick, wake, stop} event channel rather than a shared mutable state
// map, per the REDESIGN FLAGS direction to make agent concurrency
// explicit instead of guarded by ad-hoc locking.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/process"
)

// State is a scheduler's externally observable run state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

const defaultMaxRetries = 3

// Runner abstracts the process manager so tests can substitute a fake
// worker without spawning a subprocess.
type Runner interface {
	Run(ctx context.Context, agent, workflow, tag, prompt string) (output string, err error)
}

// Waker is the subset of SchedulerManager a scheduler uses to fan out
// wake signals to recipients of a message it just sent, so a reply is
// picked up without waiting for the next poll tick.
type Waker interface {
	Wake(agent, workflow, tag string)
}

// Scheduler drives one agent's idle -> running -> idle cycle.
type Scheduler struct {
	agent, workflow, tag string

	inbox   *contextstore.Store
	channel *contextstore.Store
	runner  Runner
	waker   Waker
	logger  *log.Logger

	pollInterval time.Duration
	maxRetries   int

	events chan event
	state  chan State // single-slot state broadcast for Status()
}

type eventKind int

const (
	eventTick eventKind = iota
	eventWake
	eventStop
)

type event struct{ kind eventKind }

// New creates a scheduler for (agent, workflow, tag). Call Start to begin
// its run loop in a new goroutine.
func New(agent, workflow, tag string, store *contextstore.Store, runner Runner, waker Waker, logger *log.Logger, pollInterval time.Duration, maxRetries int) *Scheduler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Scheduler{
		agent: agent, workflow: workflow, tag: tag,
		inbox: store, channel: store, runner: runner, waker: waker, logger: logger,
		pollInterval: pollInterval, maxRetries: maxRetries,
		events: make(chan event, 4),
		state:  make(chan State, 1),
	}
}

// Start begins the scheduler's run loop, queuing an immediate inbox check
// (spec §4.7) instead of waiting for the first poll tick. It returns
// immediately; call Stop to end it.
func (s *Scheduler) Start(ctx context.Context) {
	s.setState(StateIdle)
	select {
	case s.events <- event{kind: eventTick}:
	default:
	}
	go s.loop(ctx)
}

// Wake asks the scheduler to check its inbox now instead of waiting for
// the next poll tick.
func (s *Scheduler) Wake() {
	select {
	case s.events <- event{kind: eventWake}:
	default:
	}
}

// Stop ends the run loop after any in-flight run completes.
func (s *Scheduler) Stop() {
	select {
	case s.events <- event{kind: eventStop}:
	default:
	}
}

// Status returns the scheduler's last known state without blocking the
// run loop.
func (s *Scheduler) Status() State {
	select {
	case st := <-s.state:
		s.state <- st
		return st
	default:
		return StateIdle
	}
}

func (s *Scheduler) setState(st State) {
	select {
	case <-s.state:
	default:
	}
	s.state <- st
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		case <-ticker.C:
			retries = s.runIfDue(ctx, retries)
		case ev := <-s.events:
			switch ev.kind {
			case eventStop:
				s.setState(StateStopped)
				return
			case eventWake, eventTick:
				retries = s.runIfDue(ctx, retries)
			}
		}
	}
}

// runIfDue checks the agent's inbox and, if anything is unread, spawns a
// worker run; on success it sends the output to the channel (fanning out
// wake signals to recipients), acks the inbox, and resets the retry
// counter. On failure it consults the worker's FailureClass (spec §4):
// a terminal class (bad credentials, unknown model) fails fast and
// force-acks immediately rather than burning through retries, while any
// other class is retried: each failure schedules an extra wake after
// process.BackoffFor(retries), and a poll tick or wake that arrives sooner
// retries at once. After maxRetries failures it too force-acks so a
// permanently broken agent cannot wedge its own inbox forever.
func (s *Scheduler) runIfDue(ctx context.Context, retries int) int {
	entries, err := s.inbox.Query(s.agent, s.workflow, s.tag)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("scheduler %s/%s/%s: inbox query failed: %v", s.workflow, s.tag, s.agent, err)
		}
		return retries
	}
	if len(entries) == 0 {
		return 0
	}

	s.setState(StateRunning)
	defer s.setState(StateIdle)

	prompt := renderPrompt(entries)
	output, err := s.runner.Run(ctx, s.agent, s.workflow, s.tag, prompt)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("scheduler %s/%s/%s: run failed: %v", s.workflow, s.tag, s.agent, err)
		}
		if isTerminalFailure(err) {
			if s.logger != nil {
				s.logger.Printf("scheduler %s/%s/%s: terminal failure, giving up without retry", s.workflow, s.tag, s.agent)
			}
			s.forceAck(entries)
			return 0
		}
		retries++
		if retries >= s.maxRetries {
			s.forceAck(entries)
			return 0
		}
		if backoff := process.BackoffFor(retries); backoff > 0 {
			time.AfterFunc(backoff, s.Wake)
		}
		return retries
	}

	if output != "" {
		result, err := s.channel.Send(s.agent, output, s.workflow, s.tag, contextstore.SendOptions{})
		if err != nil && s.logger != nil {
			s.logger.Printf("scheduler %s/%s/%s: send reply failed: %v", s.workflow, s.tag, s.agent, err)
		}
		if err == nil && s.waker != nil {
			for _, r := range result.Recipients {
				s.waker.Wake(r, s.workflow, s.tag)
			}
		}
	}

	if err := s.inbox.AckAll(s.agent, s.workflow, s.tag); err != nil && s.logger != nil {
		s.logger.Printf("scheduler %s/%s/%s: ackAll failed: %v", s.workflow, s.tag, s.agent, err)
	}
	return 0
}

// isTerminalFailure reports whether err is a worker failure in a class
// that retrying cannot fix.
func isTerminalFailure(err error) bool {
	var runErr *process.RunError
	if errors.As(err, &runErr) {
		return runErr.Class.IsTerminal()
	}
	return false
}

// forceAck advances the inbox cursor past entries that repeatedly failed
// to process, so one broken agent does not spin forever reading the same
// messages.
func (s *Scheduler) forceAck(entries []domain.InboxEntry) {
	if s.logger != nil {
		s.logger.Printf("scheduler %s/%s/%s: giving up after max retries, force-acking %d message(s)", s.workflow, s.tag, s.agent, len(entries))
	}
	if err := s.inbox.AckAll(s.agent, s.workflow, s.tag); err != nil && s.logger != nil {
		s.logger.Printf("scheduler %s/%s/%s: force-ack failed: %v", s.workflow, s.tag, s.agent, err)
	}
}

func renderPrompt(entries []domain.InboxEntry) string {
	out := ""
	for _, e := range entries {
		out += e.Message.Sender + ": " + e.Message.Content + "\n"
	}
	return out
}

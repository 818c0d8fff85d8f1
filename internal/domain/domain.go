// Package domain defines the data types shared across the kernel: the
// workflow/agent registry, the channel message log, resources, and
// proposals. It has no dependency on any other kernel package.
package domain

import "time"

// WorkflowState is the lifecycle state of a workflow instance.
type WorkflowState string

const (
	WorkflowRunning WorkflowState = "running"
	WorkflowStopped WorkflowState = "stopped"
)

// GlobalWorkflowName and GlobalWorkflowTag identify the implicit workflow
// instance that owns standalone agents.
const (
	GlobalWorkflowName = "global"
	GlobalWorkflowTag  = "main"
)

// Workflow is a (name, tag) scoped collection of agents, documents,
// channels, and proposals.
type Workflow struct {
	Name      string
	Tag       string
	State     WorkflowState
	Config    string // opaque serialized configuration blob, may be empty
	CreatedAt time.Time
}

// AgentState is the runtime state of a registered agent. It is changed
// only through the my_status_set tool; the scheduler does not update it.
type AgentState string

const (
	AgentIdle    AgentState = "idle"
	AgentRunning AgentState = "running"
	AgentStopped AgentState = "stopped"
)

// Backend identifies which worker implementation an agent is bound to.
type Backend string

const (
	BackendSDK     Backend = "sdk"
	BackendClaude  Backend = "claude"
	BackendCodex   Backend = "codex"
	BackendCursor  Backend = "cursor"
	BackendOpencod Backend = "opencode"
	BackendMock    Backend = "mock"
	BackendDefault Backend = "default"
)

// ProviderConfig is optional model-provider wiring, opaque to the kernel
// beyond these three fields.
type ProviderConfig struct {
	Name      string `json:"name,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKeyRef string `json:"apiKeyRef,omitempty"`
}

// Schedule is an agent's optional autonomous wake-up schedule: either a
// plain polling interval or a 5-field cron expression. The registry stores
// and returns it; the scheduler does not read it and polls every agent at
// the manager's poll interval, and cron expressions are not parsed.
type Schedule struct {
	IntervalSeconds int    `json:"intervalSeconds,omitempty"`
	Cron            string `json:"cron,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
}

// Agent is a runtime registration: (name, workflow, tag) unique.
type Agent struct {
	Name         string
	Workflow     string
	Tag          string
	Model        string
	Backend      Backend
	SystemPrompt string
	Provider     *ProviderConfig
	Schedule     *Schedule
	Config       string // opaque configuration JSON
	State        AgentState
	CreatedAt    time.Time
}

// Key returns the (name, workflow, tag) identity tuple.
func (a Agent) Key() (string, string, string) { return a.Name, a.Workflow, a.Tag }

// WorkerState is the runtime state of the active-worker row.
type WorkerState string

const (
	WorkerIdle    WorkerState = "idle"
	WorkerRunning WorkerState = "running"
)

// Worker is the row tracking an active (or most recently active) worker
// process for an agent. Upserted on spawn, nullified (pid cleared, state
// idle) on exit.
type Worker struct {
	Agent     string
	Workflow  string
	Tag       string
	PID       int
	State     WorkerState
	StartedAt time.Time
}

// MessageKind distinguishes the purpose of a channel message.
type MessageKind string

const (
	MessageKindMessage  MessageKind = "message"
	MessageKindToolCall MessageKind = "tool_call"
	MessageKindSystem   MessageKind = "system"
	MessageKindOutput   MessageKind = "output"
	MessageKindDebug    MessageKind = "debug"
)

// ToolCallMeta records the originating tool call when Kind is ToolCall.
type ToolCallMeta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // serialized JSON
}

// Message is one row in the append-only channel log. Sequence is assigned
// by the storage engine at insert (the SQL rowid) and is the only ordering
// key; Timestamp is informational only.
type Message struct {
	ID         string
	Sequence   int64
	Sender     string
	Workflow   string
	Tag        string
	Content    string
	Recipients []string
	Kind       MessageKind
	To         string // optional direct-message target
	ToolCall   *ToolCallMeta
	Metadata   map[string]string
	Timestamp  time.Time
}

// HasRecipient reports whether name appears literally in Recipients (not
// resolving "all" — callers that need "all" semantics check separately).
func (m Message) HasRecipient(name string) bool {
	for _, r := range m.Recipients {
		if r == name {
			return true
		}
	}
	return false
}

// InboxCursor records the last acknowledged sequence number for an agent
// within a workflow instance. Absence (cursor == nil upstream) means
// "never acknowledged".
type InboxCursor struct {
	Agent    string
	Workflow string
	Tag      string
	Cursor   int64
}

// Priority is the urgency classification `inbox.query` assigns to each
// unread entry.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// InboxEntry is one unread message as seen through an agent's inbox, with
// its computed priority.
type InboxEntry struct {
	Message  Message
	Priority Priority
}

// ResourceType is the content-type tag of a stored resource.
type ResourceType string

const (
	ResourceMarkdown ResourceType = "markdown"
	ResourceJSON     ResourceType = "json"
	ResourceText     ResourceType = "text"
	ResourceDiff     ResourceType = "diff"
)

// Resource is write-once large-payload storage keyed by a random id.
type Resource struct {
	ID        string
	Workflow  string
	Tag       string
	Content   string
	Type      ResourceType
	Creator   string
	CreatedAt time.Time
}

// ProposalType categorizes the purpose of a vote.
type ProposalType string

const (
	ProposalElection   ProposalType = "election"
	ProposalDecision   ProposalType = "decision"
	ProposalApproval   ProposalType = "approval"
	ProposalAssignment ProposalType = "assignment"
)

// ResolutionRule selects how votes are tallied into a result.
type ResolutionRule string

const (
	ResolutionPlurality ResolutionRule = "plurality"
	ResolutionMajority  ResolutionRule = "majority"
	ResolutionUnanimous ResolutionRule = "unanimous"
)

// ProposalStatus is the state-machine position of a proposal.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalResolved  ProposalStatus = "resolved"
	ProposalExpired   ProposalStatus = "expired"
	ProposalCancelled ProposalStatus = "cancelled"
)

// Proposal is a titled voting instance scoped to a workflow instance.
// Options are immutable once created.
type Proposal struct {
	ID         string
	Workflow   string
	Tag        string
	Type       ProposalType
	Title      string
	Options    []string
	Resolution ResolutionRule
	Binding    bool
	Status     ProposalStatus
	Creator    string
	Result     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// HasOption reports whether choice is one of the proposal's immutable
// options.
func (p Proposal) HasOption(choice string) bool {
	for _, o := range p.Options {
		if o == choice {
			return true
		}
	}
	return false
}

// Vote is an agent's (upsertable) choice on an active proposal.
type Vote struct {
	ProposalID string
	Agent      string
	Choice     string
	Reason     string
	CreatedAt  time.Time
}

// DiscoveryRecord is the small JSON document published at a well-known
// path after the HTTP server binds, so clients can locate the daemon.
type DiscoveryRecord struct {
	PID       int    `json:"pid"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	StartedAt string `json:"startedAt"` // RFC 3339, as formatted by discovery.StartedAt
}

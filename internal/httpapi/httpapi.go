// Package httpapi implements the kernel's loopback-only HTTP surface
// (spec §4.8): workflow and agent CRUD, channel send/peek, and the
// "/mcp?agent=" tool-dispatch endpoint, modeled on the teacher's
// dashboard API handler (explicit method checks, manual JSON responses,
// no router framework).
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/scheduler"
	"github.com/halvorsen/agentkernel/internal/tooldispatch"
)

// Deps bundles every kernel component the HTTP surface talks to. All
// fields are supplied when the Handler is constructed; a nil Scheduler
// makes the handlers skip scheduler start, stop and wake calls.
type Deps struct {
	Registry   *registry.Registry
	Channel    *contextstore.Store
	Dispatcher *tooldispatch.Dispatcher
	Scheduler  *scheduler.Manager
	// SchedulerCtx is the long-lived daemon context schedulers started
	// from a request should run under — never the request's own context,
	// which is cancelled the moment the HTTP response is written.
	SchedulerCtx context.Context
	Logger       *log.Logger
	Shutdown     func()
}

func (h *Handler) schedulerCtx() context.Context {
	if h.deps.SchedulerCtx != nil {
		return h.deps.SchedulerCtx
	}
	return context.Background()
}

// Handler serves the kernel's REST + JSON-RPC surface.
type Handler struct {
	deps Deps
}

// New creates an HTTP handler over deps.
func New(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes installs every kernel route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/shutdown", h.handleShutdown)
	mux.HandleFunc("/agents", h.handleAgentsCollection)
	mux.HandleFunc("/agents/", h.handleAgentItem)
	mux.HandleFunc("/send", h.handleSend)
	mux.HandleFunc("/peek", h.handlePeek)
	mux.HandleFunc("/workflows", h.handleWorkflowsCollection)
	mux.HandleFunc("/workflows/", h.handleWorkflowItem)
	mux.HandleFunc("/mcp", h.handleMCP)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch kernelerr.KindOf(err) {
	case kernelerr.NotFound:
		status = http.StatusNotFound
	case kernelerr.Conflict:
		status = http.StatusConflict
	case kernelerr.Validation:
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if h.deps.Shutdown != nil {
		go h.deps.Shutdown()
	}
}

type createAgentRequest struct {
	Name         string                 `json:"name"`
	Workflow     string                 `json:"workflow,omitempty"`
	Tag          string                 `json:"tag,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Backend      string                 `json:"backend,omitempty"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Provider     *domain.ProviderConfig `json:"provider,omitempty"`
	Schedule     *domain.Schedule       `json:"schedule,omitempty"`
	Config       string                 `json:"config,omitempty"`
}

func (h *Handler) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		workflow := r.URL.Query().Get("workflow")
		tag := r.URL.Query().Get("tag")
		agents, err := h.deps.Registry.ListAgents(workflow, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, agents)
	case http.MethodPost:
		var req createAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, kernelerr.Validationf("invalid JSON body: %v", err))
			return
		}
		agent, err := h.deps.Registry.CreateAgent(registry.CreateAgentInput{
			Name: req.Name, Workflow: req.Workflow, Tag: req.Tag, Model: req.Model,
			Backend: domain.Backend(req.Backend), SystemPrompt: req.SystemPrompt,
			Provider: req.Provider, Schedule: req.Schedule, Config: req.Config,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		if h.deps.Scheduler != nil {
			h.deps.Scheduler.Start(h.schedulerCtx(), agent.Name, agent.Workflow, agent.Tag)
		}
		h.writeJSON(w, http.StatusCreated, agent)
	default:
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
	}
}

func (h *Handler) handleAgentItem(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/agents/")
	if name == "" {
		h.writeError(w, kernelerr.Validationf("agent name is required"))
		return
	}
	workflow := r.URL.Query().Get("workflow")
	tag := r.URL.Query().Get("tag")

	switch r.Method {
	case http.MethodGet:
		agent, err := h.deps.Registry.GetAgent(name, workflow, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		if h.deps.Scheduler != nil {
			h.deps.Scheduler.Stop(name, workflow, tag)
		}
		if err := h.deps.Registry.DeleteAgent(name, workflow, tag); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
	}
}

type sendRequest struct {
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	Workflow string `json:"workflow,omitempty"`
	Tag      string `json:"tag,omitempty"`
	To       string `json:"to,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, kernelerr.Validationf("invalid JSON body: %v", err))
		return
	}
	workflow, tag := defaultScope(req.Workflow, req.Tag)
	result, err := h.deps.Channel.Send(req.Sender, req.Content, workflow, tag, contextstore.SendOptions{To: req.To})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.deps.Scheduler != nil {
		for _, recipient := range result.Recipients {
			h.deps.Scheduler.Wake(recipient, workflow, tag)
		}
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": result.ID, "recipients": result.Recipients})
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	workflow, tag := defaultScope(r.URL.Query().Get("workflow"), r.URL.Query().Get("tag"))
	opts := contextstore.ReadOptions{Since: r.URL.Query().Get("since"), Agent: r.URL.Query().Get("agent")}
	msgs, err := h.deps.Channel.Read(workflow, tag, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

type createWorkflowRequest struct {
	Name    string               `json:"name"`
	Tag     string               `json:"tag,omitempty"`
	Config  string               `json:"config,omitempty"`
	Agents  []createAgentRequest `json:"agents,omitempty"`
	Kickoff *kickoffRequest      `json:"kickoff,omitempty"`
}

// kickoffRequest is the initial message posted to a freshly created
// workflow. It is always delivered verbatim (spec glossary "Kickoff"; §4
// step 5) regardless of its length — SkipAutoResource is always set here,
// whereas a plain /send always auto-resources oversize content.
type kickoffRequest struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
	To      string `json:"to,omitempty"`
}

// handleWorkflowsCollection's POST is the kernel's primary entry path
// (spec §4.8/§2): create the workflow row, create every listed agent and
// start its scheduler, then post an optional kickoff message and wake its
// recipients — the same sequence a client would otherwise have to
// reproduce by hand across three separate requests.
func (h *Handler) handleWorkflowsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		workflows, err := h.deps.Registry.ListWorkflows()
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, workflows)
	case http.MethodPost:
		var req createWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, kernelerr.Validationf("invalid JSON body: %v", err))
			return
		}
		tag := req.Tag
		if tag == "" {
			tag = domain.GlobalWorkflowTag
		}
		wf, err := h.deps.Registry.CreateWorkflow(req.Name, tag, req.Config)
		if err != nil {
			h.writeError(w, err)
			return
		}

		agents := make([]domain.Agent, 0, len(req.Agents))
		for _, ar := range req.Agents {
			agent, err := h.deps.Registry.CreateAgent(registry.CreateAgentInput{
				Name: ar.Name, Workflow: wf.Name, Tag: wf.Tag, Model: ar.Model,
				Backend: domain.Backend(ar.Backend), SystemPrompt: ar.SystemPrompt,
				Provider: ar.Provider, Schedule: ar.Schedule, Config: ar.Config,
			})
			if err != nil {
				h.writeError(w, err)
				return
			}
			if h.deps.Scheduler != nil {
				h.deps.Scheduler.Start(h.schedulerCtx(), agent.Name, agent.Workflow, agent.Tag)
			}
			agents = append(agents, agent)
		}

		var kickoffID string
		if req.Kickoff != nil {
			sender := req.Kickoff.Sender
			if sender == "" {
				sender = "system"
			}
			result, err := h.deps.Channel.Send(sender, req.Kickoff.Content, wf.Name, wf.Tag, contextstore.SendOptions{
				To: req.Kickoff.To, SkipAutoResource: true, Kind: domain.MessageKindSystem,
			})
			if err != nil {
				h.writeError(w, err)
				return
			}
			kickoffID = result.ID
			if h.deps.Scheduler != nil {
				for _, recipient := range result.Recipients {
					h.deps.Scheduler.Wake(recipient, wf.Name, wf.Tag)
				}
			}
		}

		h.writeJSON(w, http.StatusCreated, map[string]any{
			"workflow": wf, "agents": agents, "kickoff_id": kickoffID,
		})
	default:
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
	}
}

// workflowStatus is the idle-detection snapshot spec §4.8/invariant #5
// defines: a workflow instance is done running when every one of its
// agents is idle, none has a pending inbox entry, and it has at least one
// agent (an empty workflow is never "complete", just unstarted).
type workflowStatus struct {
	Name       string `json:"name"`
	Tag        string `json:"tag"`
	State      string `json:"state"`
	AgentCount int    `json:"agent_count"`
	AllIdle    bool   `json:"all_idle"`
}

// handleWorkflowItem serves both GET /workflows/{name}/{tag}/status and
// DELETE /workflows/{name}/{tag}.
func (h *Handler) handleWorkflowItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
	isStatus := strings.HasSuffix(rest, "/status")
	rest = strings.TrimSuffix(rest, "/status")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		h.writeError(w, kernelerr.Validationf("expected /workflows/{name}/{tag}"))
		return
	}
	name, tag := parts[0], parts[1]

	switch r.Method {
	case http.MethodGet:
		if !isStatus {
			h.writeJSON(w, http.StatusMethodNotAllowed, nil)
			return
		}
		wf, err := h.deps.Registry.GetWorkflow(name, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		agents, err := h.deps.Registry.ListAgents(name, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		allIdle := len(agents) > 0
		for _, agent := range agents {
			if agent.State == domain.AgentRunning {
				allIdle = false
			}
			entries, err := h.deps.Channel.Query(agent.Name, name, tag)
			if err != nil {
				h.writeError(w, err)
				return
			}
			if len(entries) > 0 {
				allIdle = false
			}
		}
		if h.deps.Scheduler != nil && !h.deps.Scheduler.AllIdle() {
			allIdle = false
		}
		h.writeJSON(w, http.StatusOK, workflowStatus{
			Name: wf.Name, Tag: wf.Tag, State: string(wf.State), AgentCount: len(agents), AllIdle: allIdle,
		})
	case http.MethodDelete:
		agents, err := h.deps.Registry.ListAgents(name, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if h.deps.Scheduler != nil {
			for _, agent := range agents {
				h.deps.Scheduler.Stop(agent.Name, agent.Workflow, agent.Tag)
			}
		}
		if err := h.deps.Registry.DeleteWorkflow(name, tag); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
	}
}

// handleMCP dispatches one JSON-RPC call from the worker whose identity
// is carried only in the "?agent=" query parameter (spec §4.9 — never
// trust a body-supplied identity for this endpoint).
func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	agent := r.URL.Query().Get("agent")
	workflow, tag := defaultScope(r.URL.Query().Get("workflow"), r.URL.Query().Get("tag"))

	var req tooldispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON-RPC request"})
		return
	}
	resp := h.deps.Dispatcher.Dispatch(agent, workflow, tag, req)
	h.writeJSON(w, http.StatusOK, resp)
}

func defaultScope(workflow, tag string) (string, string) {
	if workflow == "" {
		workflow = domain.GlobalWorkflowName
	}
	if tag == "" {
		tag = domain.GlobalWorkflowTag
	}
	return workflow, tag
}

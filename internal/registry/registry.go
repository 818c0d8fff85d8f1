// Package registry implements the workflow and agent registry (spec §4.2):
// create/get/list/remove workflows and agents, the implicit global
// workflow, and the scoped lookups the scheduler and the @mention resolver
// need. Every operation is a short, direct query against the shared
// *sql.DB handed to it by storage.Open.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
)

// Registry is the narrow CRUD surface over workflows and agents.
type Registry struct {
	db *sql.DB
}

// New wraps db for registry operations.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// EnsureGlobalWorkflow idempotently creates the implicit (global, main)
// workflow if it is absent.
func (r *Registry) EnsureGlobalWorkflow() error {
	_, err := r.db.Exec(
		`INSERT INTO workflows (name, tag, state, config, created_at)
		 SELECT ?, ?, ?, '', ?
		 WHERE NOT EXISTS (SELECT 1 FROM workflows WHERE name = ? AND tag = ?)`,
		domain.GlobalWorkflowName, domain.GlobalWorkflowTag, domain.WorkflowRunning, nowRFC3339(),
		domain.GlobalWorkflowName, domain.GlobalWorkflowTag,
	)
	return err
}

// CreateWorkflow inserts a new workflow row. Returns Conflict if (name,
// tag) already exists.
func (r *Registry) CreateWorkflow(name, tag, config string) (domain.Workflow, error) {
	wf := domain.Workflow{Name: name, Tag: tag, State: domain.WorkflowRunning, Config: config, CreatedAt: time.Now()}
	_, err := r.db.Exec(
		`INSERT INTO workflows (name, tag, state, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		wf.Name, wf.Tag, wf.State, wf.Config, wf.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Workflow{}, kernelerr.Conflictf("workflow %s:%s already exists", name, tag)
		}
		return domain.Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow fetches a single workflow by (name, tag).
func (r *Registry) GetWorkflow(name, tag string) (domain.Workflow, error) {
	row := r.db.QueryRow(
		`SELECT name, tag, state, config, created_at FROM workflows WHERE name = ? AND tag = ?`,
		name, tag,
	)
	var wf domain.Workflow
	var createdAt string
	if err := row.Scan(&wf.Name, &wf.Tag, &wf.State, &wf.Config, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Workflow{}, kernelerr.NotFoundf("workflow %s:%s not found", name, tag)
		}
		return domain.Workflow{}, err
	}
	wf.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return wf, nil
}

// ListWorkflows returns every workflow row.
func (r *Registry) ListWorkflows() ([]domain.Workflow, error) {
	rows, err := r.db.Query(`SELECT name, tag, state, config, created_at FROM workflows ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		var createdAt string
		if err := rows.Scan(&wf.Name, &wf.Tag, &wf.State, &wf.Config, &createdAt); err != nil {
			return nil, err
		}
		wf.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, wf)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes the workflow row along with its agents. Workers
// and schedulers for those agents must already have been stopped by the
// caller (the lifecycle/scheduler layer); the registry itself knows
// nothing about running processes.
func (r *Registry) DeleteWorkflow(name, tag string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM agents WHERE workflow = ? AND tag = ?`, name, tag); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM workflows WHERE name = ? AND tag = ?`, name, tag); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAgentInput is the set of user-suppliable agent fields; omitted
// fields take the defaults spec §4.2 names.
type CreateAgentInput struct {
	Name         string
	Workflow     string
	Tag          string
	Model        string
	Backend      domain.Backend
	SystemPrompt string
	Provider     *domain.ProviderConfig
	Schedule     *domain.Schedule
	Config       string
}

// CreateAgent inserts a new agent, applying defaults (workflow=global,
// tag=main, backend=default, state=idle). Returns Conflict when (name,
// workflow, tag) collides.
func (r *Registry) CreateAgent(in CreateAgentInput) (domain.Agent, error) {
	if in.Workflow == "" {
		in.Workflow = domain.GlobalWorkflowName
	}
	if in.Tag == "" {
		in.Tag = domain.GlobalWorkflowTag
	}
	if in.Backend == "" {
		in.Backend = domain.BackendDefault
	}
	if in.Name == "" {
		return domain.Agent{}, kernelerr.Validationf("agent name is required")
	}

	providerJSON, err := marshalOptional(in.Provider)
	if err != nil {
		return domain.Agent{}, kernelerr.Wrap(kernelerr.Validation, "invalid provider config", err)
	}
	scheduleJSON, err := marshalOptional(in.Schedule)
	if err != nil {
		return domain.Agent{}, kernelerr.Wrap(kernelerr.Validation, "invalid schedule", err)
	}

	agent := domain.Agent{
		Name: in.Name, Workflow: in.Workflow, Tag: in.Tag,
		Model: in.Model, Backend: in.Backend, SystemPrompt: in.SystemPrompt,
		Provider: in.Provider, Schedule: in.Schedule, Config: in.Config,
		State: domain.AgentIdle, CreatedAt: time.Now(),
	}

	_, err = r.db.Exec(
		`INSERT INTO agents (name, workflow, tag, model, backend, system_prompt, provider, schedule, config, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.Name, agent.Workflow, agent.Tag, agent.Model, agent.Backend, agent.SystemPrompt,
		providerJSON, scheduleJSON, agent.Config, agent.State, agent.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, kernelerr.Conflictf("agent %s already exists in %s:%s", in.Name, in.Workflow, in.Tag)
		}
		return domain.Agent{}, err
	}
	return agent, nil
}

// GetAgent fetches one agent by (name, workflow, tag).
func (r *Registry) GetAgent(name, workflow, tag string) (domain.Agent, error) {
	row := r.db.QueryRow(
		`SELECT name, workflow, tag, model, backend, system_prompt, provider, schedule, config, state, created_at
		 FROM agents WHERE name = ? AND workflow = ? AND tag = ?`,
		name, workflow, tag,
	)
	return scanAgent(row)
}

// ListAgents returns agents, optionally scoped to a (workflow, tag). When
// both are empty, every agent is returned.
func (r *Registry) ListAgents(workflow, tag string) ([]domain.Agent, error) {
	query := `SELECT name, workflow, tag, model, backend, system_prompt, provider, schedule, config, state, created_at FROM agents`
	var args []any
	if workflow != "" && tag != "" {
		query += ` WHERE workflow = ? AND tag = ?`
		args = append(args, workflow, tag)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// ListAgentNames returns just the names of agents in a workflow instance,
// the shape the @mention resolver needs.
func (r *Registry) ListAgentNames(workflow, tag string) ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM agents WHERE workflow = ? AND tag = ?`, workflow, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateAgentState sets an agent's runtime state; a no-op if the agent is
// absent. Its only caller is the my_status_set tool; the scheduler does
// not update agent state.
func (r *Registry) UpdateAgentState(name, workflow, tag string, state domain.AgentState) error {
	_, err := r.db.Exec(
		`UPDATE agents SET state = ? WHERE name = ? AND workflow = ? AND tag = ?`,
		state, name, workflow, tag,
	)
	return err
}

// DeleteAgent removes a single agent row.
func (r *Registry) DeleteAgent(name, workflow, tag string) error {
	_, err := r.db.Exec(`DELETE FROM agents WHERE name = ? AND workflow = ? AND tag = ?`, name, workflow, tag)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAgent(row scannable) (domain.Agent, error) {
	var agent domain.Agent
	var providerJSON, scheduleJSON, createdAt string
	if err := row.Scan(&agent.Name, &agent.Workflow, &agent.Tag, &agent.Model, &agent.Backend,
		&agent.SystemPrompt, &providerJSON, &scheduleJSON, &agent.Config, &agent.State, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Agent{}, kernelerr.NotFoundf("agent not found")
		}
		return domain.Agent{}, err
	}
	agent.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if providerJSON != "" {
		var p domain.ProviderConfig
		if err := json.Unmarshal([]byte(providerJSON), &p); err == nil {
			agent.Provider = &p
		}
	}
	if scheduleJSON != "" {
		var s domain.Schedule
		if err := json.Unmarshal([]byte(scheduleJSON), &s); err == nil {
			agent.Schedule = &s
		}
	}
	return agent, nil
}

func marshalOptional(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}

package tooldispatch

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/proposals"
)

type proposalCreateParams struct {
	Title      string   `json:"title"`
	Options    []string `json:"options"`
	Type       string   `json:"type,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
	Binding    *bool    `json:"binding,omitempty"`
}

func handleProposalCreate(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p proposalCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	prop, err := d.Proposals.Create(proposals.CreateInput{
		Workflow: workflow, Tag: tag,
		Type:       domain.ProposalType(p.Type),
		Title:      p.Title,
		Options:    p.Options,
		Resolution: domain.ResolutionRule(p.Resolution),
		Binding:    p.Binding,
		Creator:    agent,
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]string{"id": prop.ID})
}

type voteParams struct {
	ProposalID string `json:"proposal_id"`
	Choice     string `json:"choice"`
	Reason     string `json:"reason,omitempty"`
}

func handleVote(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p voteParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	result, err := d.Proposals.Vote(p.ProposalID, agent, p.Choice, p.Reason)
	if err != nil {
		return nil, err
	}
	return jsonResult(result)
}

type proposalIDParams struct {
	ProposalID string `json:"proposal_id"`
}

func handleProposalStatus(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p proposalIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	prop, err := d.Proposals.Get(p.ProposalID)
	if err != nil {
		return nil, err
	}
	return jsonResult(prop)
}

func handleProposalCancel(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p proposalIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.Proposals.Cancel(p.ProposalID, agent); err != nil {
		return nil, err
	}
	return textResult("Proposal " + p.ProposalID + " cancelled")
}

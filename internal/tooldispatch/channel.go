package tooldispatch

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/domain"
)

type channelSendParams struct {
	Content          string `json:"content"`
	To               string `json:"to,omitempty"`
	SkipAutoResource bool   `json:"skip_auto_resource,omitempty"`
}

func handleChannelSend(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p channelSendParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	res, err := d.Channel.Send(agent, p.Content, workflow, tag, contextstore.SendOptions{
		To: p.To, SkipAutoResource: p.SkipAutoResource,
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"id": res.ID, "recipients": res.Recipients})
}

type channelReadParams struct {
	Since string `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func handleChannelRead(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p channelReadParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	msgs, err := d.Channel.Read(workflow, tag, contextstore.ReadOptions{Since: p.Since, Limit: p.Limit, Agent: agent})
	if err != nil {
		return nil, err
	}
	return jsonResult(msgs)
}

func handleMyInbox(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	entries, err := d.Channel.Query(agent, workflow, tag)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return textResult("No messages")
	}
	return jsonResult(entries)
}

type inboxAckParams struct {
	MessageID string `json:"message_id,omitempty"`
}

func handleMyInboxAck(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p inboxAckParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		if err := d.Channel.AckAll(agent, workflow, tag); err != nil {
			return nil, err
		}
		return textResult("Inbox cleared")
	}
	if err := d.Channel.Ack(agent, workflow, tag, p.MessageID); err != nil {
		return nil, err
	}
	return textResult("Acknowledged " + p.MessageID)
}

func handleTeamMembers(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	names, err := d.Registry.ListAgentNames(workflow, tag)
	if err != nil {
		return nil, err
	}
	return jsonResult(names)
}

type statusSetParams struct {
	State string `json:"state"`
}

func handleMyStatusSet(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p statusSetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.Registry.UpdateAgentState(agent, workflow, tag, domain.AgentState(p.State)); err != nil {
		return nil, err
	}
	return textResult("Status updated to " + p.State)
}

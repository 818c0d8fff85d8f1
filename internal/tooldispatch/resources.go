package tooldispatch

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvorsen/agentkernel/internal/domain"
)

type resourceCreateParams struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

func handleResourceCreate(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p resourceCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	typ := domain.ResourceType(p.Type)
	if typ == "" {
		typ = domain.ResourceText
	}
	res, err := d.Resources.Create(p.Content, typ, agent, workflow, tag)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]string{"id": res.ID})
}

type resourceReadParams struct {
	ID string `json:"id"`
}

func handleResourceRead(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p resourceReadParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	res, err := d.Resources.Read(p.ID)
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

package tooldispatch

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvorsen/agentkernel/internal/kernelerr"
)

func requireDocs(d *Dispatcher) error {
	if d.Docs == nil {
		return kernelerr.Validationf("no document provider is configured for this workflow")
	}
	return nil
}

type docPathParams struct {
	Path string `json:"path"`
}

func handleTeamDocRead(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	if err := requireDocs(d); err != nil {
		return nil, err
	}
	var p docPathParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	content, found, err := d.Docs.Read(workflow, tag, p.Path)
	if err != nil {
		return nil, err
	}
	if !found {
		return textResult("Document not found: " + p.Path)
	}
	return textResult(content)
}

type docWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func handleTeamDocWrite(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	if err := requireDocs(d); err != nil {
		return nil, err
	}
	var p docWriteParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.Docs.Write(workflow, tag, p.Path, p.Content); err != nil {
		return nil, err
	}
	return textResult("Wrote " + p.Path)
}

func handleTeamDocAppend(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	if err := requireDocs(d); err != nil {
		return nil, err
	}
	var p docWriteParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.Docs.Append(workflow, tag, p.Path, p.Content); err != nil {
		return nil, err
	}
	return textResult("Appended to " + p.Path)
}

func handleTeamDocCreate(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	if err := requireDocs(d); err != nil {
		return nil, err
	}
	var p docWriteParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.Docs.Create(workflow, tag, p.Path, p.Content); err != nil {
		return nil, err
	}
	return textResult("Created " + p.Path)
}

func handleTeamDocList(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error) {
	if err := requireDocs(d); err != nil {
		return nil, err
	}
	paths, err := d.Docs.List(workflow, tag)
	if err != nil {
		return nil, err
	}
	return jsonResult(paths)
}

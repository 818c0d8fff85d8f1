// Package tooldispatch implements the tool dispatcher (spec §4.9): a
// hand-rolled JSON-RPC 2.0 endpoint, not mcp-go's SDK server, because a
// worker's identity here comes only from the request's "?agent=" query
// parameter rather than from a negotiated MCP session. Responses still
// wrap their payload in mcp-go's CallToolResult content-envelope shape
// so worker-side MCP clients parse them exactly as they would any other
// tool server's output.
package tooldispatch

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/docstore"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/resources"
	"github.com/halvorsen/agentkernel/internal/proposals"
)

// JSON-RPC 2.0 error codes (spec §7).
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32000
)

// Request is a single JSON-RPC call addressed to one of the kernel's
// collaboration tools.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the JSON-RPC envelope returned for a Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  *mcp.CallToolResult `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dispatcher holds the kernel components every tool handler reads from
// or writes to.
type Dispatcher struct {
	Registry  *registry.Registry
	Channel   *contextstore.Store
	Resources *resources.Store
	Proposals *proposals.Store
	Docs      docstore.Provider // nil if no document provider is configured
}

type handlerFunc func(d *Dispatcher, agent, workflow, tag string, params json.RawMessage) (*mcp.CallToolResult, error)

var handlers = map[string]handlerFunc{
	"channel_send":          handleChannelSend,
	"channel_read":          handleChannelRead,
	"my_inbox":              handleMyInbox,
	"my_inbox_ack":          handleMyInboxAck,
	"team_members":          handleTeamMembers,
	"my_status_set":         handleMyStatusSet,
	"resource_create":       handleResourceCreate,
	"resource_read":         handleResourceRead,
	"team_doc_read":         handleTeamDocRead,
	"team_doc_write":        handleTeamDocWrite,
	"team_doc_append":       handleTeamDocAppend,
	"team_doc_list":         handleTeamDocList,
	"team_doc_create":       handleTeamDocCreate,
	"team_proposal_create":  handleProposalCreate,
	"team_vote":             handleVote,
	"team_proposal_status":  handleProposalStatus,
	"team_proposal_cancel":  handleProposalCancel,
}

// Dispatch runs one JSON-RPC request as agent within (workflow, tag),
// returning a fully-formed Response — dispatch errors never propagate as
// a Go error, they become a populated Response.Error instead, matching
// JSON-RPC semantics.
func (d *Dispatcher) Dispatch(agent, workflow, tag string, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "jsonrpc must be \"2.0\""}
		return resp
	}
	handler, ok := handlers[req.Method]
	if !ok {
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
		return resp
	}
	if agent == "" {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "agent identity is required (?agent=)"}
		return resp
	}

	result, err := handler(d, agent, workflow, tag, req.Params)
	if err != nil {
		resp.Error = rpcErrorFrom(err)
		return resp
	}
	resp.Result = result
	return resp
}

func rpcErrorFrom(err error) *rpcError {
	switch kernelerr.KindOf(err) {
	case kernelerr.Validation, kernelerr.NotFound, kernelerr.Conflict:
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &rpcError{Code: codeInternal, Message: err.Error()}
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return kernelerr.Wrap(kernelerr.Validation, "invalid params", err)
	}
	return nil
}

func textResult(s string) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Internal, "marshal result", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

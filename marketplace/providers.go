package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// CallContext carries per-call provenance (intent/plan/step) alongside
// ctx.Context; Local handlers receive it so they can thread it into any
// capability implementation that itself issues further calls.
type CallContext struct {
	Ctx      context.Context
	IntentID string
	PlanID   string
	StepID   string
}

// Executor dispatches one already-validated call to its provider.
type Executor interface {
	Execute(cc *CallContext, provider ProviderSpec, args rtfs.Value) (rtfs.Value, error)
}

// LocalExecutor calls an in-process LocalHandler directly.
type LocalExecutor struct{}

func (LocalExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	if p.Handler == nil {
		return rtfs.Nil, rtfserrors.New("marketplace.LocalExecutor", rtfserrors.KindCapabilityNotFound, "local provider has no handler")
	}
	return p.Handler(cc, args)
}

// HTTPExecutor dispatches to an HTTP endpoint, instrumented with
// otelhttp (teacher dep: go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp),
// matching gomind/core/agent.go's HTTP-capability dispatch path.
type HTTPExecutor struct {
	Client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}}
}

func (e *HTTPExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.HTTPExecutor", rtfserrors.KindTypeError, err)
	}
	method := p.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(cc.Ctx, method, p.URL, bytes.NewReader(body))
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.HTTPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.HTTPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.HTTPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	if resp.StatusCode >= 500 {
		return rtfs.Nil, rtfserrors.Newf("marketplace.HTTPExecutor", rtfserrors.KindTransientProviderError,
			"provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return rtfs.Nil, rtfserrors.Newf("marketplace.HTTPExecutor", rtfserrors.KindPermissionDenied,
			"provider returned %d", resp.StatusCode)
	}

	var out rtfs.Value
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return rtfs.Nil, rtfserrors.Wrap("marketplace.HTTPExecutor", rtfserrors.KindTypeError, err)
		}
	}
	return out, nil
}

// mcpSession tracks one reusable MCP session, matching spec.md §5's
// "pooled per server URL; session reuse across calls; a 404 triggers
// teardown and re-initialize".
type mcpSession struct {
	id string
}

// MCPExecutor implements the JSON-RPC 2.0 MCP protocol over HTTP (spec.md
// §6.3). It pools one session per server URL.
type MCPExecutor struct {
	Client *http.Client

	mu       sync.Mutex
	sessions map[string]*mcpSession
}

func NewMCPExecutor() *MCPExecutor {
	return &MCPExecutor{
		Client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		sessions: make(map[string]*mcpSession),
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	sess, err := e.ensureSession(cc, p.ServerURL)
	if err != nil {
		return rtfs.Nil, err
	}

	argsJSON, err := valueToJSONAny(args)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTypeError, err)
	}
	resp, status, err := e.call(cc, p.ServerURL, sess, "tools/call", map[string]interface{}{
		"name":      p.ToolName,
		"arguments": argsJSON,
	})
	if status == http.StatusNotFound {
		e.mu.Lock()
		delete(e.sessions, p.ServerURL)
		e.mu.Unlock()
		sess, err = e.ensureSession(cc, p.ServerURL)
		if err != nil {
			return rtfs.Nil, err
		}
		resp, _, err = e.call(cc, p.ServerURL, sess, "tools/call", map[string]interface{}{
			"name":      p.ToolName,
			"arguments": argsJSON,
		})
	}
	if err != nil {
		return rtfs.Nil, err
	}
	if resp.Error != nil {
		return rtfs.Nil, rtfserrors.Newf("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError,
			"mcp tool call failed: %s", resp.Error.Message)
	}
	var out rtfs.Value
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return rtfs.Nil, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTypeError, err)
		}
	}
	return out, nil
}

func (e *MCPExecutor) ensureSession(cc *CallContext, serverURL string) (*mcpSession, error) {
	e.mu.Lock()
	if s, ok := e.sessions[serverURL]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	resp, sessionID, err := e.initialize(cc, serverURL)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, rtfserrors.Newf("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError,
			"mcp initialize failed: %s", resp.Error.Message)
	}
	sess := &mcpSession{id: sessionID}
	e.mu.Lock()
	e.sessions[serverURL] = sess
	e.mu.Unlock()
	return sess, nil
}

func (e *MCPExecutor) initialize(cc *CallContext, serverURL string) (*jsonRPCResponse, string, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", Method: "initialize", Params: map[string]interface{}{
		"client_info": map[string]string{"name": "ccos", "version": "1"},
	}, ID: 1}
	return e.post(cc, serverURL, nil, req)
}

func (e *MCPExecutor) call(cc *CallContext, serverURL string, sess *mcpSession, method string, params interface{}) (*jsonRPCResponse, int, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 2}
	resp, status, err := e.post(cc, serverURL, sess, req)
	return resp, status, err
}

func (e *MCPExecutor) post(cc *CallContext, serverURL string, sess *mcpSession, rpcReq jsonRPCRequest) (*jsonRPCResponse, int, error) {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, 0, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTypeError, err)
	}
	httpReq, err := http.NewRequestWithContext(cc.Ctx, http.MethodPost, serverURL+"/", bytes.NewReader(body))
	if err != nil {
		return nil, 0, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if sess != nil && sess.id != "" {
		httpReq.Header.Set("Mcp-Session-Id", sess.id)
	}

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return nil, 0, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, http.StatusNotFound, rtfserrors.New("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError, "mcp session lost")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError, err)
	}
	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, rtfserrors.Newf("marketplace.MCPExecutor", rtfserrors.KindTransientProviderError, "mcp server returned %d", resp.StatusCode)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, resp.StatusCode, rtfserrors.Wrap("marketplace.MCPExecutor", rtfserrors.KindTypeError, err)
	}
	if sessionID := resp.Header.Get("Mcp-Session-Id"); sessionID != "" && sess != nil {
		sess.id = sessionID
	}
	return &rpcResp, resp.StatusCode, nil
}

func valueToJSONAny(v rtfs.Value) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// A2AExecutor dispatches to another agent by id via the agent registry's
// transport. The registry/discovery plumbing lives in package
// agentregistry; this executor is handed a resolver function at
// construction, so marketplace does not import agentregistry.
type A2AExecutor struct {
	Dispatch func(cc *CallContext, agentID string, args rtfs.Value) (rtfs.Value, error)
}

func (e *A2AExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	if e.Dispatch == nil {
		return rtfs.Nil, rtfserrors.New("marketplace.A2AExecutor", rtfserrors.KindCapabilityNotFound, "no agent dispatcher configured")
	}
	return e.Dispatch(cc, p.AgentID, args)
}

// PluginExecutor dispatches to a registered in-process plugin by id.
type PluginExecutor struct {
	Plugins map[string]LocalHandler
}

func (e *PluginExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	h, ok := e.Plugins[p.PluginID]
	if !ok {
		return rtfs.Nil, rtfserrors.Newf("marketplace.PluginExecutor", rtfserrors.KindCapabilityNotFound, "plugin %q not registered", p.PluginID)
	}
	return h(cc, args)
}

// RemoteRTFSExecutor posts an RTFS source body to a remote evaluator
// endpoint and parses back a Value result, for ProviderSpec::RemoteRtfs.
type RemoteRTFSExecutor struct {
	Client *http.Client
}

func (e *RemoteRTFSExecutor) Execute(cc *CallContext, p ProviderSpec, args rtfs.Value) (rtfs.Value, error) {
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(args)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.RemoteRTFSExecutor", rtfserrors.KindTypeError, err)
	}
	req, err := http.NewRequestWithContext(cc.Ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.RemoteRTFSExecutor", rtfserrors.KindTransientProviderError, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.RemoteRTFSExecutor", rtfserrors.KindTransientProviderError, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.RemoteRTFSExecutor", rtfserrors.KindTransientProviderError, err)
	}
	var out rtfs.Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.RemoteRTFSExecutor", rtfserrors.KindTypeError, err)
	}
	return out, nil
}

func executorFor(kind ProviderKind, reg *Registry) (Executor, error) {
	switch kind {
	case ProviderLocal:
		return LocalExecutor{}, nil
	case ProviderHTTP:
		return reg.httpExec, nil
	case ProviderMCP:
		return reg.mcpExec, nil
	case ProviderA2A:
		return reg.a2aExec, nil
	case ProviderPlugin:
		return reg.pluginExec, nil
	case ProviderRemoteRTFS:
		return reg.remoteExec, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %d", kind)
	}
}

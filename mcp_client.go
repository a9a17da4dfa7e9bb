package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sony/gobreaker"
	"go.elastic.co/apm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	searchSymptomsTool = "searchSymptoms"

	// MCP_TRANSPORT values
	mcpTransportStreamable = "streamable"
	mcpTransportJSONRPC    = "jsonrpc"
)

var errNoResults = errors.New("MCP response did not include results")

// MCPClient calls the symptom search tool of a remote MCP server. Streamable
// HTTP servers are reached through an MCP session; plain JSON-RPC backends get
// a bare tools/call POST. Calls are rate limited and pass through a circuit
// breaker.
type MCPClient struct {
	url       string
	transport string
	timeout   int
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	client    *mcp.Client
	nextId    atomic.Int64

	mu      sync.Mutex
	session *mcp.ClientSession
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Id      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Id      int64     `json:"id"`
	Result  *rpcTool  `json:"result"`
	Error   *rpcError `json:"error"`
}

type rpcTool struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type searchPayload struct {
	Results *[]SymptomResult `json:"results"`
}

func NewMCPClient(url, transport string, timeout int, rateLimit float64, burst int) *MCPClient {
	if transport == "" {
		transport = mcpTransportStreamable
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
	}

	name := appName
	if name == "" {
		name = "symptom-intake"
	}

	return &MCPClient{
		url:       url,
		transport: transport,
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, burst),
		client:    mcp.NewClient(&mcp.Implementation{Name: name, Version: appVersion}, nil),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "MCP symptom search",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				zapLogger.Warn("Circuit breaker changed state",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (m *MCPClient) SearchSymptoms(ctx context.Context, query string, limit int, useAI bool) ([]SymptomResult, error) {
	span, ctx := apm.StartSpan(ctx, "MCP searchSymptoms", "MCP")
	defer span.End()

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	arguments := map[string]any{
		"query": query,
		"limit": limit,
		"useAI": useAI,
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		if m.transport == mcpTransportJSONRPC {
			return m.callJSONRPC(ctx, arguments)
		}
		return m.callTool(ctx, arguments)
	})
	if err != nil {
		return nil, err
	}

	return result.([]SymptomResult), nil
}

// Close ends the MCP session, if one is open.
func (m *MCPClient) Close() error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (m *MCPClient) callTimeout() time.Duration {
	return time.Duration(m.timeout) * time.Second
}

// connect returns the open session, starting one when there is none.
func (m *MCPClient) connect(ctx context.Context) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout())
	defer cancel()

	session, err := m.client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: m.url}, nil)
	if err != nil {
		return nil, fmt.Errorf("MCP connect failed: %w", err)
	}

	zapLogger.Info("MCP session started", zap.String("url", m.url), zap.String("session", session.ID()))
	m.session = session
	return session, nil
}

// dropSession closes a session that failed so the next call starts a new one.
func (m *MCPClient) dropSession(session *mcp.ClientSession) {
	m.mu.Lock()
	if m.session == session {
		m.session = nil
	}
	m.mu.Unlock()

	if err := session.Close(); err != nil {
		zapLogger.Debug("Error closing MCP session", zap.Error(err))
	}
}

func (m *MCPClient) callTool(ctx context.Context, arguments map[string]any) ([]SymptomResult, error) {
	session, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout())
	defer cancel()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      searchSymptomsTool,
		Arguments: arguments,
	})
	if err != nil {
		m.dropSession(session)
		return nil, fmt.Errorf("MCP tool call failed: %w", err)
	}

	if len(result.Content) == 0 {
		return nil, errNoResults
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return nil, fmt.Errorf("MCP tool returned %T content", result.Content[0])
	}

	return parseToolContent(text.Text, result.IsError)
}

func (m *MCPClient) callJSONRPC(ctx context.Context, arguments map[string]any) ([]SymptomResult, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Id:      m.nextId.Add(1),
		Method:  "tools/call",
		Params: rpcToolCall{
			Name:      searchSymptomsTool,
			Arguments: arguments,
		},
	})
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}

	resp, err := sendRequest(ctx, "POST", m.url, nil, headers, bytes.NewReader(body), m.timeout)
	if err != nil {
		return nil, fmt.Errorf("MCP request failed: %w", err)
	}

	respBody, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("MCP request failed with status code: %d", resp.StatusCode)
	}

	return parseSearchResponse(respBody)
}

// parseSearchResponse unwraps a JSON-RPC tools/call response.
func parseSearchResponse(data []byte) ([]SymptomResult, error) {
	var rpc rpcResponse
	if err := json.Unmarshal(data, &rpc); err != nil {
		return nil, fmt.Errorf("error unmarshalling MCP response: %w", err)
	}

	if rpc.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	if rpc.Result == nil || len(rpc.Result.Content) == 0 {
		return nil, errNoResults
	}

	return parseToolContent(rpc.Result.Content[0].Text, rpc.Result.IsError)
}

// parseToolContent reads the results list out of the tool's first text content.
func parseToolContent(text string, isError bool) ([]SymptomResult, error) {
	if isError {
		return nil, fmt.Errorf("MCP tool error: %s", text)
	}

	var payload searchPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("error unmarshalling MCP tool content: %w", err)
	}
	if payload.Results == nil {
		return nil, errNoResults
	}

	return *payload.Results, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const matchConditionTool = "matchCondition"

type matchConditionArgs struct {
	SymptomCodes []string `json:"symptomCodes"`
	Explain      bool     `json:"explain"`
}

type searchSymptomsArgs struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	ResourceType string `json:"resourceType"`
}

// mcpTools holds the tool handlers served over MCP.
type mcpTools struct {
	matcher  *ConditionMatcher
	searcher *SymptomSearcher
}

func newMCPServer(matcher *ConditionMatcher, searcher *SymptomSearcher) *mcp.Server {
	tools := &mcpTools{
		matcher:  matcher,
		searcher: searcher,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    appName,
		Version: appVersion,
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        matchConditionTool,
		Description: "Match SNOMED CT symptom codes to a condition and its intervention protocol",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"symptomCodes": {
					Type:        "array",
					Description: "SNOMED CT codes of the reported symptoms",
					Items:       &jsonschema.Schema{Type: "string"},
				},
				"explain": {
					Type:        "boolean",
					Description: "Return every evaluated condition and the reasoning",
				},
			},
			Required: []string{"symptomCodes"},
		},
	}, tools.matchCondition)

	server.AddTool(&mcp.Tool{
		Name:        searchSymptomsTool,
		Description: "Search symptoms by free text",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "Free text describing the symptoms",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of results (1-100)",
				},
				"resourceType": {
					Type: "string",
					Enum: []any{"Condition", "Observation", "Procedure"},
				},
			},
			Required: []string{"query"},
		},
	}, tools.searchSymptoms)

	return server
}

func (t *mcpTools) matchCondition(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args matchConditionArgs
	if err := bindArguments(req, &args); err != nil {
		return toolError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	var result any
	if args.Explain {
		result = t.matcher.Explain(args.SymptomCodes)
	} else {
		result = t.matcher.Match(args.SymptomCodes)
	}

	return toolJSON(result)
}

func (t *mcpTools) searchSymptoms(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchSymptomsArgs
	if err := bindArguments(req, &args); err != nil {
		return toolError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	results, err := t.searcher.Search(ctx, SearchRequest{
		Query:        args.Query,
		Limit:        args.Limit,
		ResourceType: args.ResourceType,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}

	return toolJSON(map[string]any{"results": results})
}

// bindArguments decodes the tool arguments into v. Calls arriving over a
// transport carry the raw JSON; in-process callers may pass a decoded value.
func bindArguments(req *mcp.CallToolRequest, v any) error {
	if req.Params == nil || req.Params.Arguments == nil {
		return nil
	}

	raw, ok := req.Params.Arguments.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return err
		}
		raw = data
	}
	return json.Unmarshal(raw, v)
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// runMCPStdio serves the tools on stdin and stdout until ctx is done.
func runMCPStdio(ctx context.Context, server *mcp.Server) error {
	zapLogger.Info("Starting MCP server on stdio", zap.String("name", appName))
	return server.Run(ctx, &mcp.StdioTransport{})
}

func mcpHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

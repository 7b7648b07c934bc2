// Package mcpingest adapts an external MCP (Model Context Protocol)
// tool server into a tool.Delegate for one intent. It lives outside the
// conversation core: the core's tool surface (pkg/tool, pkg/registry)
// is agnostic to where a Delegate's methods come from, and this package
// is one possible source among others (§6 "the core is agnostic to MCP").
//
// Only the stdio transport is implemented; it is the common case for
// locally-run MCP servers and keeps this adapter's footprint small.
package mcpingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/tool"
)

// Config configures a stdio-transport MCP server to ingest as one
// intent's domain delegate.
type Config struct {
	Intent  string
	Command string
	Args    []string
	Env     map[string]string
}

// Delegate wraps a connected MCP server as a tool.Delegate. Connection
// happens lazily on the first Methods() or Invoke() call.
type Delegate struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	methods   map[string]tool.MethodSpec
	toolDefs  []model.ToolDefinition
	connected bool
}

// New creates a Delegate for cfg. No I/O happens until first use.
func New(cfg Config) (*Delegate, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpingest: command is required")
	}
	return &Delegate{cfg: cfg}, nil
}

// Intent implements tool.Delegate.
func (d *Delegate) Intent() string { return d.cfg.Intent }

// Methods implements tool.Delegate, connecting lazily.
func (d *Delegate) Methods() map[string]tool.MethodSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureConnectedLocked(); err != nil {
		return map[string]tool.MethodSpec{}
	}
	return d.methods
}

// ToolDefinitions returns the model.ToolDefinition list derived from the
// connected server's tool list, for merging into an agent's declared
// tools at construction time.
func (d *Delegate) ToolDefinitions() []model.ToolDefinition {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureConnectedLocked(); err != nil {
		return nil
	}
	return d.toolDefs
}

// Invoke implements tool.Delegate, forwarding to the MCP server.
func (d *Delegate) Invoke(method string, args map[string]any) (string, error) {
	d.mu.Lock()
	if err := d.ensureConnectedLocked(); err != nil {
		d.mu.Unlock()
		return "", err
	}
	mcpClient := d.client
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = method
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcpingest: call %q: %w", method, err)
	}

	if resp.IsError {
		for _, content := range resp.Content {
			if text, ok := content.(mcp.TextContent); ok {
				return "", fmt.Errorf("mcpingest: %s", text.Text)
			}
		}
		return "", fmt.Errorf("mcpingest: %q reported an error with no detail", method)
	}

	var out string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			out += text.Text
		}
	}
	return out, nil
}

// Close disconnects from the MCP server.
func (d *Delegate) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.connected = false
	return err
}

func (d *Delegate) ensureConnectedLocked() error {
	if d.connected {
		return nil
	}

	mcpClient, err := client.NewStdioMCPClient(d.cfg.Command, envSlice(d.cfg.Env), d.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcpingest: creating client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("mcpingest: starting client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "morgana", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcpingest: initializing: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcpingest: listing tools: %w", err)
	}

	methods := make(map[string]tool.MethodSpec, len(listResp.Tools))
	defs := make([]model.ToolDefinition, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		params := schemaParams(t.InputSchema)

		var methodParams []tool.ParamSpec
		var defParams []model.ToolParameter
		for _, p := range params {
			methodParams = append(methodParams, tool.ParamSpec{Name: p.name, Optional: !p.required})
			defParams = append(defParams, model.ToolParameter{
				Name:     p.name,
				Required: p.required,
				Scope:    model.ScopeRequest,
			})
		}

		methods[t.Name] = tool.MethodSpec{Params: methodParams}
		defs = append(defs, model.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: defParams})
	}

	d.client = mcpClient
	d.methods = methods
	d.toolDefs = defs
	d.connected = true
	return nil
}

type schemaParam struct {
	name     string
	required bool
}

// schemaParams reads top-level property names and the required list out
// of an MCP tool's JSON-schema input shape.
func schemaParams(schema mcp.ToolInputSchema) []schemaParam {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	params := make([]schemaParam, 0, len(schema.Properties))
	for name := range schema.Properties {
		params = append(params, schemaParam{name: name, required: required[name]})
	}
	return params
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

var _ tool.Delegate = (*Delegate)(nil)

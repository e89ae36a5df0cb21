package tool

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// Source resolves tool names to remote callables. It is read-only after
// startup and safe for concurrent use by independent runs.
type Source interface {
	// Has reports whether a tool with this name was advertised.
	Has(name string) bool

	// Invoke calls the named tool and returns its native, un-normalized
	// result. The error covers transport failures only; tool-level failures
	// travel inside the result.
	Invoke(ctx context.Context, name string, payload map[string]any) (any, error)

	// Count returns the number of tools loaded (used by the liveness probe).
	Count() int
}

// Registry is an MCP-backed Source. It connects to the reporting MCP server
// over streamable HTTP, lists the advertised tools once, and resolves calls
// against that snapshot.
type Registry struct {
	client *mcpclient.Client
	names  map[string]bool
	logger *slog.Logger
}

// NewRegistry connects to the MCP server at url, performs the protocol
// handshake, and loads the tool list.
func NewRegistry(ctx context.Context, url, version string, logger *slog.Logger) (*Registry, error) {
	c, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("tool: create mcp client: %w", err)
	}

	if _, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "reportflow-agent", Version: version},
		},
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tool: initialize mcp session: %w", err)
	}

	toolsResult, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tool: list tools: %w", err)
	}

	names := make(map[string]bool, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		names[t.Name] = true
	}
	logger.Info("tool registry loaded", "url", url, "tools", len(names))

	return &Registry{client: c, names: names, logger: logger}, nil
}

// Has reports whether the named tool was advertised at startup.
func (r *Registry) Has(name string) bool { return r.names[name] }

// Count returns the number of tools advertised at startup.
func (r *Registry) Count() int { return len(r.names) }

// Close shuts down the MCP session.
func (r *Registry) Close() error { return r.client.Close() }

// Invoke calls the named tool over MCP. The result is handed back in the
// MCP content-fragment shape (a list of items with a text field); the
// adapter owns normalization into an Envelope.
func (r *Registry) Invoke(ctx context.Context, name string, payload map[string]any) (any, error) {
	result, err := r.client.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: payload,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool: call %s: %w", name, err)
	}

	fragments := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			fragments = append(fragments, map[string]any{"type": "text", "text": tc.Text})
		}
	}
	return fragments, nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ostrauko/loreline/internal/storage"
)

// stdioDial launches the server's subprocess and performs the MCP session
// handshake.
func stdioDial(ctx context.Context, srv storage.MCPServer) (session, error) {
	cli, err := client.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("launching %s: %w", srv.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "loreline",
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}

	return &stdioSession{cli: cli}, nil
}

type stdioSession struct {
	cli *client.Client
}

func (s *stdioSession) listTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := s.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	infos := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := []byte(t.RawInputSchema)
		if len(schema) == 0 {
			b, err := json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshaling schema for %s: %w", t.Name, err)
			}
			schema = b
		}
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return infos, nil
}

func (s *stdioSession) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func (s *stdioSession) ping(ctx context.Context) error {
	return s.cli.Ping(ctx)
}

func (s *stdioSession) close() error {
	return s.cli.Close()
}

// flattenContent joins a result's text parts; non-text content is skipped.
func flattenContent(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

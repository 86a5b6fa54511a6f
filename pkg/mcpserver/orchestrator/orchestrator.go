// Package orchestrator provides an MCP server that exposes a running
// bp6 orchestrator as tools. MCP-capable agents can create sessions,
// send turns, queue prompts, and follow session state through it.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Client calls the orchestrator's HTTP API.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient creates a client for the orchestrator at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// call performs one API request and returns the response body. A non-2xx
// response becomes an error carrying the body text.
func (c *Client) call(ctx context.Context, method, path string, body any) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// NewServer creates an MCP server with session tools bridged to the
// orchestrator behind the client.
func NewServer(c *Client, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"bp6-orchestrator",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("session_list",
		mcp.WithDescription("List all agent sessions with status, queue depth, and turn counters"),
	), c.listSessions)

	s.AddTool(mcp.NewTool("session_create",
		mcp.WithDescription("Create an agent session. A prompt starts the first turn immediately; queued prompts run after it in order"),
		mcp.WithString("task_ref", mcp.Description("Task reference the session belongs to; sessions on the same task resume its conversation")),
		mcp.WithString("persona", mcp.Description("Persona for the session (default from config)")),
		mcp.WithString("backend", mcp.Description("Agent backend, claude or gemini (default from config)")),
		mcp.WithString("prompt", mcp.Description("Prompt for the first turn")),
		mcp.WithArray("queue",
			mcp.Description("Prompts queued after the first turn"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), c.createSession)

	s.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Get one session's current state"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), c.getSession)

	s.AddTool(mcp.NewTool("session_send",
		mcp.WithDescription("Send a message to an idle session, starting its next turn"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), c.sendMessage)

	s.AddTool(mcp.NewTool("session_queue",
		mcp.WithDescription("Append prompts to a session's turn queue; they execute in order as turns complete"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithArray("prompts",
			mcp.Required(),
			mcp.Description("Prompts to queue"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), c.enqueueTurns)

	s.AddTool(mcp.NewTool("session_interrupt",
		mcp.WithDescription("Interrupt a session's running turn; the session stays alive but queued turns pause until the next enqueue or completed manual turn"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), c.interruptSession)

	s.AddTool(mcp.NewTool("session_handover",
		mcp.WithDescription("Hand a session over to interactive mode. One way: the session stops accepting headless turns"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), c.handoverSession)

	s.AddTool(mcp.NewTool("session_remove",
		mcp.WithDescription("Terminate a session's process and remove it from the registry"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), c.removeSession)

	s.AddTool(mcp.NewTool("backend_list",
		mcp.WithDescription("List the registered agent backends"),
	), c.listBackends)

	s.AddTool(mcp.NewTool("persona_list",
		mcp.WithDescription("List the personas available for new sessions"),
	), c.listPersonas)

	s.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List tasks from the external task feed"),
	), c.listTasks)

	return s
}

func (c *Client) listSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bridge(ctx, http.MethodGet, "/session", nil)
}

func (c *Client) createSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	body := map[string]any{}
	for arg, field := range map[string]string{
		"task_ref": "taskRef",
		"persona":  "persona",
		"backend":  "backend",
		"prompt":   "prompt",
	} {
		if v, ok := stringArg(args, arg); ok {
			body[field] = v
		}
	}
	if raw, ok := args["queue"]; ok {
		queue, err := toStringSlice(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid queue: %v", err)), nil
		}
		body["queue"] = queue
	}

	return c.bridge(ctx, http.MethodPost, "/session", body)
}

func (c *Client) getSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.bridge(ctx, http.MethodGet, "/session/"+id, nil)
}

func (c *Client) sendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, ok := stringArg(request.GetArguments(), "text")
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	return c.bridge(ctx, http.MethodPost, "/session/"+id+"/message", map[string]any{"text": text})
}

func (c *Client) enqueueTurns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := request.GetArguments()["prompts"]
	if !ok {
		return mcp.NewToolResultError("prompts argument is required"), nil
	}
	prompts, err := toStringSlice(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid prompts: %v", err)), nil
	}
	return c.bridge(ctx, http.MethodPost, "/session/"+id+"/queue", map[string]any{"prompts": prompts})
}

func (c *Client) interruptSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.bridge(ctx, http.MethodPost, "/session/"+id+"/interrupt", struct{}{})
}

func (c *Client) handoverSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.bridge(ctx, http.MethodPost, "/session/"+id+"/handover", struct{}{})
}

func (c *Client) removeSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := sessionID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.bridge(ctx, http.MethodDelete, "/session/"+id, nil)
}

func (c *Client) listBackends(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bridge(ctx, http.MethodGet, "/backend", nil)
}

func (c *Client) listPersonas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bridge(ctx, http.MethodGet, "/persona", nil)
}

func (c *Client) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bridge(ctx, http.MethodGet, "/task", nil)
}

// bridge maps one API call onto a tool result: response body as text,
// API errors as tool errors rather than protocol errors.
func (c *Client) bridge(ctx context.Context, method, path string, body any) (*mcp.CallToolResult, error) {
	text, err := c.call(ctx, method, path, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// sessionID extracts the required session_id argument.
func sessionID(request mcp.CallToolRequest) (string, error) {
	id, ok := stringArg(request.GetArguments(), "session_id")
	if !ok {
		return "", fmt.Errorf("session_id argument is required")
	}
	return id, nil
}

// stringArg returns a non-empty string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// toStringSlice converts a JSON array argument to []string.
func toStringSlice(v any) ([]string, error) {
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []any:
		result := make([]string, len(arr))
		for i, elem := range arr {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string: %T", i, elem)
			}
			result[i] = s
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected array of strings, got %T", v)
	}
}

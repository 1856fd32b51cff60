package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/autowebkit/autowebkit/models"
	"github.com/autowebkit/autowebkit/pkg/logger"
)

// ScriptStore lists stored scripts.
type ScriptStore interface {
	ListScripts() ([]*models.ScriptDefinition, error)
}

// ScriptRunner plays scripts; browser.Manager implements it.
type ScriptRunner interface {
	Start(ctx context.Context) error
	IsRunning() bool
	PlayScript(ctx context.Context, def *models.ScriptDefinition, params map[string]string) (*models.PlayResult, error)
}

// MCPServer exposes scripts flagged as MCP commands as MCP tools.
type MCPServer struct {
	storage ScriptStore
	runner  ScriptRunner

	mu            sync.RWMutex
	scriptsByName map[string]*models.ScriptDefinition // command name -> script

	mcpServer            *server.MCPServer
	streamableHTTPServer *server.StreamableHTTPServer

	httpMu     sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer creates the server. Call Reload to register tools.
func NewMCPServer(storage ScriptStore, runner ScriptRunner, version string) *MCPServer {
	s := &MCPServer{
		storage:       storage,
		runner:        runner,
		scriptsByName: make(map[string]*models.ScriptDefinition),
	}

	s.mcpServer = server.NewMCPServer(
		"autowebkit",
		version,
		server.WithToolCapabilities(true),
	)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/api/v1/mcp"),
	)
	return s
}

// Handler serves MCP over streamable HTTP for mounting in the API router.
func (s *MCPServer) Handler() http.Handler {
	return s.streamableHTTPServer
}

// StartStreamableHTTPServer serves MCP on its own address at /mcp. It blocks
// until Shutdown.
func (s *MCPServer) StartStreamableHTTPServer(addr string) error {
	srv := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
	)
	s.httpMu.Lock()
	s.httpServer = srv
	s.httpMu.Unlock()

	logger.Info(context.Background(), "MCP streamable HTTP server listening on %s/mcp", addr)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "mcp http server")
	}
	return nil
}

// Shutdown stops the server started by StartStreamableHTTPServer.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.httpServer
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Reload re-reads scripts and registers one tool per MCP command, dropping
// tools whose script was deleted or unflagged.
func (s *MCPServer) Reload(ctx context.Context) error {
	scripts, err := s.storage.ListScripts()
	if err != nil {
		return errors.Wrap(err, "load MCP scripts")
	}

	next := make(map[string]*models.ScriptDefinition)
	for _, script := range scripts {
		if !script.IsMCPCommand || script.MCPCommandName == "" {
			continue
		}
		if existing, ok := next[script.MCPCommandName]; ok {
			logger.Warn(ctx, "MCP command name %q is used by scripts %s and %s, keeping %s",
				script.MCPCommandName, existing.ID, script.ID, existing.ID)
			continue
		}
		next[script.MCPCommandName] = script
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for name := range s.scriptsByName {
		if _, ok := next[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcpServer.DeleteTools(stale...)
	}
	for _, script := range next {
		s.mcpServer.AddTool(buildTool(script), s.createToolHandler(script.MCPCommandName))
	}
	s.scriptsByName = next

	logger.Info(ctx, "Loaded %d MCP commands", len(next))
	return nil
}

// Commands returns the registered command names, sorted.
func (s *MCPServer) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.scriptsByName))
	for name := range s.scriptsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildTool describes script as a tool, taking parameters from the
// properties of its JSON Schema.
func buildTool(script *models.ScriptDefinition) mcpgo.Tool {
	description := script.MCPCommandDescription
	if description == "" {
		description = script.Description
	}
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription(description),
	}

	required := map[string]bool{}
	if list, ok := script.MCPInputSchema["required"].([]interface{}); ok {
		for _, r := range list {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	if props, ok := script.MCPInputSchema["properties"].(map[string]interface{}); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, propName := range names {
			propDef, ok := props[propName].(map[string]interface{})
			if !ok {
				continue
			}
			desc, _ := propDef["description"].(string)
			propType, _ := propDef["type"].(string)

			propOpts := []mcpgo.PropertyOption{mcpgo.Description(desc)}
			if required[propName] {
				propOpts = append(propOpts, mcpgo.Required())
			}

			switch propType {
			case "number", "integer":
				opts = append(opts, mcpgo.WithNumber(propName, propOpts...))
			case "boolean":
				opts = append(opts, mcpgo.WithBoolean(propName, propOpts...))
			default:
				opts = append(opts, mcpgo.WithString(propName, propOpts...))
			}
		}
	}

	return mcpgo.NewTool(script.MCPCommandName, opts...)
}

func (s *MCPServer) createToolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		result, err := s.CallTool(ctx, name, request.GetArguments())
		if err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcpgo.NewToolResultText(string(data)), nil
	}
}

// CallTool runs the script behind command name. Arguments become script
// parameters and environment entries; the browser is started on demand.
func (s *MCPServer) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*models.PlayResult, error) {
	s.mu.RLock()
	script, exists := s.scriptsByName[name]
	s.mu.RUnlock()
	if !exists {
		return nil, errors.Errorf("command not found: %s", name)
	}

	logger.Info(ctx, "Executing MCP command: %s (script: %s)", name, script.Name)

	if !s.runner.IsRunning() {
		logger.Info(ctx, "Browser not running, starting...")
		if err := s.runner.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to start browser")
		}
	}

	params := make(map[string]string, len(arguments))
	for key, value := range arguments {
		params[key] = fmt.Sprintf("%v", value)
	}

	result, err := s.runner.PlayScript(ctx, script, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute script")
	}
	return result, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autowebkit/autowebkit/models"
)

type fakeStore struct {
	scripts []*models.ScriptDefinition
}

func (f *fakeStore) ListScripts() ([]*models.ScriptDefinition, error) {
	return f.scripts, nil
}

type fakeRunner struct {
	running bool
	starts  int
	params  map[string]string
	script  *models.ScriptDefinition
}

func (f *fakeRunner) Start(context.Context) error { f.starts++; f.running = true; return nil }
func (f *fakeRunner) IsRunning() bool             { return f.running }
func (f *fakeRunner) PlayScript(_ context.Context, def *models.ScriptDefinition, params map[string]string) (*models.PlayResult, error) {
	f.script = def
	f.params = params
	return &models.PlayResult{Success: true, Finished: true, Message: "ok", Environment: params}, nil
}

func searchScript() *models.ScriptDefinition {
	return &models.ScriptDefinition{
		ID:                    "s1",
		Name:                  "search",
		IsMCPCommand:          true,
		MCPCommandName:        "search_site",
		MCPCommandDescription: "Search the site",
		MCPInputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "terms"},
				"limit": map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"query"},
		},
	}
}

func TestReloadRegistersFlaggedScripts(t *testing.T) {
	store := &fakeStore{scripts: []*models.ScriptDefinition{
		searchScript(),
		{ID: "s2", Name: "plain"},
		{ID: "s3", Name: "unnamed", IsMCPCommand: true},
	}}
	s := NewMCPServer(store, &fakeRunner{}, "test")

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, []string{"search_site"}, s.Commands())

	store.scripts = []*models.ScriptDefinition{{ID: "s4", Name: "login", IsMCPCommand: true, MCPCommandName: "login"}}
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, []string{"login"}, s.Commands())
}

func TestDuplicateCommandNamesKeepFirst(t *testing.T) {
	second := searchScript()
	second.ID = "s9"
	s := NewMCPServer(&fakeStore{scripts: []*models.ScriptDefinition{searchScript(), second}}, &fakeRunner{}, "test")

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, []string{"search_site"}, s.Commands())
	assert.Equal(t, "s1", s.scriptsByName["search_site"].ID)
}

func TestBuildToolUsesSchema(t *testing.T) {
	tool := buildTool(searchScript())

	assert.Equal(t, "search_site", tool.Name)
	assert.Equal(t, "Search the site", tool.Description)
	assert.Contains(t, tool.InputSchema.Properties, "query")
	assert.Contains(t, tool.InputSchema.Properties, "limit")
	assert.Equal(t, []string{"query"}, tool.InputSchema.Required)
}

func TestCallToolStartsBrowserAndPassesArguments(t *testing.T) {
	runner := &fakeRunner{}
	s := NewMCPServer(&fakeStore{scripts: []*models.ScriptDefinition{searchScript()}}, runner, "test")
	require.NoError(t, s.Reload(context.Background()))

	result, err := s.CallTool(context.Background(), "search_site", map[string]interface{}{
		"query": "gophers",
		"limit": 5,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, runner.starts)
	assert.Equal(t, map[string]string{"query": "gophers", "limit": "5"}, runner.params)
	assert.Equal(t, "s1", runner.script.ID)

	_, err = s.CallTool(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestToolHandlerReturnsJSON(t *testing.T) {
	s := NewMCPServer(&fakeStore{scripts: []*models.ScriptDefinition{searchScript()}}, &fakeRunner{running: true}, "test")
	require.NoError(t, s.Reload(context.Background()))

	var req mcpgo.CallToolRequest
	req.Params.Name = "search_site"
	req.Params.Arguments = map[string]any{"query": "x"}

	res, err := s.createToolHandler("search_site")(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(mcpgo.TextContent)
	require.True(t, ok)
	var result models.PlayResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &result))
	assert.Equal(t, "x", result.Environment["query"])

	res, err = s.createToolHandler("gone")(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

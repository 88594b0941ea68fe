// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/ace/pkg/auth"
	"github.com/stacklok/ace/pkg/playbook"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := playbook.Open(context.Background(), filepath.Join(t.TempDir(), "playbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func authedContext(tenant string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{TenantID: tenant})
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestToolsRequireAuthentication(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	result, err := s.handleReadPlaybook(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "authentication required")
}

func TestReadPlaybookTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	result, err := s.handleReadPlaybook(authedContext("github|42"), callRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "## STRATEGIES & INSIGHTS")
	assert.Contains(t, textOf(t, result), "[str-00001]")
}

func TestAddAndGetSectionTools(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	result, err := s.handleAddEntry(ctx, callRequest(map[string]any{
		"section": playbook.SectionStrategies,
		"content": "New insight",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Added entry [str-00003] to 'STRATEGIES & INSIGHTS'", textOf(t, result))

	result, err = s.handleGetSection(ctx, callRequest(map[string]any{
		"section": playbook.SectionStrategies,
	}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "helpful=0 harmful=0 :: New insight")

	result, err = s.handleGetSection(ctx, callRequest(map[string]any{
		"section": "NOT A SECTION",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUpdateCountersTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	// Touch the playbook so defaults exist.
	_, err := s.handleReadPlaybook(ctx, callRequest(nil))
	require.NoError(t, err)

	result, err := s.handleUpdateCounters(ctx, callRequest(map[string]any{
		"entry_id":      "str-00001",
		"helpful_delta": 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, "Updated [str-00001]: helpful=0->1, harmful=0->0", textOf(t, result))

	result, err = s.handleUpdateCounters(ctx, callRequest(map[string]any{
		"entry_id": "str-99999",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRemoveEntryTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	_, err := s.handleReadPlaybook(ctx, callRequest(nil))
	require.NoError(t, err)

	result, err := s.handleRemoveEntry(ctx, callRequest(map[string]any{"entry_id": "mis-00001"}))
	require.NoError(t, err)
	assert.Equal(t, "Removed entry [mis-00001]", textOf(t, result))

	result, err = s.handleRemoveEntry(ctx, callRequest(map[string]any{"entry_id": "mis-00001"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchPlaybookTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	result, err := s.handleSearchPlaybook(ctx, callRequest(map[string]any{"query": "ROI"}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "Found 1 matching entries:")
	assert.Contains(t, textOf(t, result), "cal-00001")

	result, err = s.handleSearchPlaybook(ctx, callRequest(map[string]any{"query": "zzznothing"}))
	require.NoError(t, err)
	assert.Equal(t, "No entries found matching 'zzznothing'", textOf(t, result))
}

func TestLogReflectionTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	result, err := s.handleLogReflection(ctx, callRequest(map[string]any{
		"task_summary": "Shipped the feature",
		"outcome":      "success",
		"learnings":    []any{"Test early", "Cut scope"},
	}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "Logged reflection with 2 learning(s)")
}

func TestCuratePlaybookTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	_, err := s.handleAddEntry(ctx, callRequest(map[string]any{
		"section": playbook.SectionStrategies,
		"content": "Bad strategy",
	}))
	require.NoError(t, err)
	_, err = s.handleUpdateCounters(ctx, callRequest(map[string]any{
		"entry_id":      "str-00003",
		"harmful_delta": 5,
	}))
	require.NoError(t, err)

	result, err := s.handleCuratePlaybook(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "Removed 1 harmful entries: str-00003")
	assert.Contains(t, textOf(t, result), "No duplicate entries found.")
}

func TestListProjectsTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := authedContext("github|42")

	// Writing to a named project implicitly creates it.
	_, err := s.handleAddEntry(ctx, callRequest(map[string]any{
		"section": playbook.SectionStrategies,
		"content": "Finance strategy",
		"project": "finance",
	}))
	require.NoError(t, err)

	result, err := s.handleListProjects(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "- finance")
	assert.Contains(t, textOf(t, result), "- global")
}

func TestTenantIsolationAcrossTools(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, err := s.handleAddEntry(authedContext("tenant-a"), callRequest(map[string]any{
		"section": playbook.SectionKnowledge,
		"content": "Tenant A secret knowledge",
	}))
	require.NoError(t, err)

	result, err := s.handleReadPlaybook(authedContext("tenant-b"), callRequest(nil))
	require.NoError(t, err)
	assert.NotContains(t, textOf(t, result), "Tenant A secret knowledge")
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/ace/pkg/auth"
	"github.com/stacklok/ace/pkg/logger"
	"github.com/stacklok/ace/pkg/playbook"
)

// withProject adds the optional project parameter shared by most tools.
func withProject() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Description("Project the playbook belongs to (defaults to 'global')"))
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("read_playbook",
		mcp.WithDescription("Return the full current playbook"),
		withProject(),
	), s.handleReadPlaybook)

	s.mcp.AddTool(mcp.NewTool("get_section",
		mcp.WithDescription("Get all entries from a specific section of the playbook"),
		mcp.WithString("section", mcp.Required(),
			mcp.Description("One of: "+strings.Join(playbook.Sections(), ", "))),
		withProject(),
	), s.handleGetSection)

	s.mcp.AddTool(mcp.NewTool("add_entry",
		mcp.WithDescription("Add a new entry to the playbook with an auto-generated id and zeroed counters"),
		mcp.WithString("section", mcp.Required(),
			mcp.Description("One of: "+strings.Join(playbook.Sections(), ", "))),
		mcp.WithString("content", mcp.Required(), mcp.Description("The entry content")),
		withProject(),
	), s.handleAddEntry)

	s.mcp.AddTool(mcp.NewTool("update_counters",
		mcp.WithDescription("Update the helpful/harmful counters for an entry (clamped at zero)"),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Entry id, e.g. str-00001")),
		mcp.WithNumber("helpful_delta", mcp.Description("Signed change to helpful count")),
		mcp.WithNumber("harmful_delta", mcp.Description("Signed change to harmful count")),
		withProject(),
	), s.handleUpdateCounters)

	s.mcp.AddTool(mcp.NewTool("remove_entry",
		mcp.WithDescription("Remove an entry from the playbook by its id"),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Entry id, e.g. str-00001")),
		withProject(),
	), s.handleRemoveEntry)

	s.mcp.AddTool(mcp.NewTool("search_playbook",
		mcp.WithDescription("Search the playbook for entries containing any of the query keywords"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Whitespace-separated keywords")),
		withProject(),
	), s.handleSearchPlaybook)

	s.mcp.AddTool(mcp.NewTool("log_reflection",
		mcp.WithDescription("Log a task reflection for later curation into the playbook"),
		mcp.WithString("task_summary", mcp.Required(), mcp.Description("Short task description")),
		mcp.WithString("outcome", mcp.Required(), mcp.Description("How the task went")),
		mcp.WithArray("learnings", mcp.Required(),
			mcp.Description("List of learnings from the task"),
			mcp.Items(map[string]any{"type": "string"})),
		withProject(),
	), s.handleLogReflection)

	s.mcp.AddTool(mcp.NewTool("curate_playbook",
		mcp.WithDescription("Remove harmful entries and report potential duplicates"),
		mcp.WithNumber("harmful_threshold",
			mcp.Description("Remove entries where harmful exceeds helpful by more than this (default 3)")),
		withProject(),
	), s.handleCuratePlaybook)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List the projects with playbooks for the current tenant"),
	), s.handleListProjects)
}

// tenantFromContext resolves the authenticated tenant for a tool call.
func tenantFromContext(ctx context.Context) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || id.TenantID == "" {
		return "", errors.New("authentication required")
	}
	return id.TenantID, nil
}

// projectArg extracts the optional project parameter.
func projectArg(request mcp.CallToolRequest) string {
	return request.GetString("project", playbook.DefaultProject)
}

func (s *Server) handleReadPlaybook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := s.store.ReadPlaybook(ctx, tenant, projectArg(request))
	if err != nil {
		logger.Errorw("read_playbook failed", "error", err)
		return nil, err
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleGetSection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	section, err := request.RequireString("section")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.store.GetSection(ctx, tenant, projectArg(request), section)
	if err != nil {
		if errors.Is(err, playbook.ErrInvalidSection) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(playbook.RenderSection(section, entries)), nil
}

func (s *Server) handleAddEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	section, err := request.RequireString("section")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.store.AddEntry(ctx, tenant, projectArg(request), section, content)
	if err != nil {
		if errors.Is(err, playbook.ErrInvalidSection) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Added entry [%s] to '%s'", entry.ID, section)), nil
}

func (s *Server) handleUpdateCounters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entryID, err := request.RequireString("entry_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	upd, err := s.store.UpdateCounters(ctx, tenant, projectArg(request), entryID,
		request.GetInt("helpful_delta", 0), request.GetInt("harmful_delta", 0))
	if err != nil {
		if errors.Is(err, playbook.ErrEntryNotFound) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Updated [%s]: helpful=%d->%d, harmful=%d->%d",
		upd.EntryID, upd.OldHelpful, upd.NewHelpful, upd.OldHarmful, upd.NewHarmful)), nil
}

func (s *Server) handleRemoveEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entryID, err := request.RequireString("entry_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.RemoveEntry(ctx, tenant, projectArg(request), entryID); err != nil {
		if errors.Is(err, playbook.ErrEntryNotFound) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed entry [%s]", entryID)), nil
}

func (s *Server) handleSearchPlaybook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches, err := s.store.SearchPlaybook(ctx, tenant, projectArg(request), query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No entries found matching '%s'", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching entries:\n", len(matches))
	for _, e := range matches {
		b.WriteString(e.Format() + "\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleLogReflection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskSummary, err := request.RequireString("task_summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcome, err := request.RequireString("outcome")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	learnings := request.GetStringSlice("learnings", nil)

	ref, err := s.store.LogReflection(ctx, tenant, projectArg(request), taskSummary, outcome, learnings)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Logged reflection with %d learning(s) for task: %s",
		len(ref.Learnings), taskSummary)), nil
}

func (s *Server) handleCuratePlaybook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threshold := request.GetInt("harmful_threshold", playbook.DefaultHarmfulThreshold)

	report, err := s.store.CuratePlaybook(ctx, tenant, projectArg(request), threshold)
	if err != nil {
		return nil, err
	}

	var lines []string
	if len(report.Removed) > 0 {
		lines = append(lines, fmt.Sprintf("Removed %d harmful entries: %s",
			len(report.Removed), strings.Join(report.Removed, ", ")))
	} else {
		lines = append(lines, "No harmful entries to remove.")
	}
	if len(report.Duplicates) > 0 {
		pairs := make([]string, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			pairs = append(pairs, fmt.Sprintf("%s ~ %s (%.0f%%)", d.A, d.B, d.Similarity*100))
		}
		lines = append(lines, "Potential duplicates found: "+strings.Join(pairs, "; "))
	} else {
		lines = append(lines, "No duplicate entries found.")
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	projects, err := s.store.ListProjects(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Projects:\n")
	for _, p := range projects {
		if p.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", p.ID, p.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", p.ID)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

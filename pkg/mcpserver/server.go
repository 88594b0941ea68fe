// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver exposes the playbook store as MCP tools over
// streamable HTTP. Every tool operates on the tenant of the verified
// principal attached to the request by the auth middleware.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/ace/pkg/auth"
	"github.com/stacklok/ace/pkg/playbook"
)

// ServerName and ServerVersion identify this MCP server to clients.
const (
	ServerName    = "ace"
	ServerVersion = "0.1.0"
)

// Server wraps the MCP protocol server around the playbook store.
type Server struct {
	store *playbook.Store
	mcp   *server.MCPServer
}

// New creates the MCP server and registers all playbook tools.
func New(store *playbook.Store) *Server {
	s := &Server{store: store}
	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	s.registerTools()
	return s
}

// Handler returns the streamable HTTP handler for the MCP endpoint. The
// identity placed on the HTTP request context by the auth middleware is
// carried over into the tool-call context.
func (s *Server) Handler(endpointPath string) http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithEndpointPath(endpointPath),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				ctx = auth.WithIdentity(ctx, id)
			}
			return ctx
		}),
	)
}

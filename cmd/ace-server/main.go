// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command ace-server runs the ACE multi-tenant MCP knowledge server with
// its embedded OAuth authorization server.
package main

import (
	"os"

	"github.com/stacklok/ace/cmd/ace-server/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

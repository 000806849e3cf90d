package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/internal/mcp"
	"github.com/forest6511/weblist/pkg/cache"
	"github.com/forest6511/weblist/pkg/vault"
)

func newMCPServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Start the MCP server for AI agent integration",
		Long: `Start a Model Context Protocol server over stdio that lets AI agents
browse the storage root.

Available tools:
  - files_list:            List a folder
  - files_search:          Search a folder by name, type and size
  - files_link:            Get a download link for a file
  - files_share:           Create a share link (allow_share)
  - credential_list:       List credential names (allow_credentials)
  - credential_get_masked: Get a masked credential value, e.g. "****WXYZ" (allow_credentials)

Policy:
  $WEBLIST_HOME/mcp-policy.yaml (mode 0600) sets the acting role and the
  allowed and denied paths, and rate_limit/burst cap tool calls per
  second. Without it the server runs as role "user"
  with every unprotected path allowed, sharing and credentials off and
  10 calls per second.

Example client configuration:
  {
    "mcpServers": {
      "weblist": {
        "type": "stdio",
        "command": "/path/to/weblist",
        "args": ["mcp-server"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := mcp.LoadPolicy(a.cfg.Home)
			switch {
			case errors.Is(err, mcp.ErrPolicyNotFound):
				policy = mcp.DefaultPolicy()
			case err != nil:
				return fmt.Errorf("failed to load MCP policy: %w", err)
			}

			svc, _, cleanup, err := a.files(&filesFlags{role: policy.Role})
			if err != nil {
				return err
			}
			defer cleanup()

			opts := mcp.Options{
				Files:  svc,
				Policy: policy,
				User:   currentUser(),
				Logger: a.logger,
			}
			if policy.AllowCredentials {
				s, err := a.openStore()
				if err != nil {
					return err
				}
				opts.Credentials = s
				section := a.cfg.Cache.Config
				opts.CredentialCache, err = cache.New[[]vault.CredentialInfo](section.Capacity, section.TTL)
				if err != nil {
					return err
				}
			}

			server, err := mcp.NewServer(opts)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/pkg/audit"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the master key and credential store",
		Long: `Creates the master key file, the credential database and the audit
log directory under the weblist home. Running init again keeps the
existing key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.vault.EnsureKey(); err != nil {
				return err
			}
			if _, err := a.openStore(); err != nil {
				return err
			}
			a.record(audit.Entry{Operation: audit.OpVaultInit, Path: a.cfg.Home})

			fmt.Fprintf(cmd.OutOrStdout(), "Vault ready at %s\n", a.cfg.Home)
			return nil
		},
	}
}

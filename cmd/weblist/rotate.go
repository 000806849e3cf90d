package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/vault"
)

func newRotateCmd(a *app) *cobra.Command {
	var keepBackup bool
	cmd := &cobra.Command{
		Use:   "rotate-keys",
		Short: "Replace the master key and re-encrypt stored data",
		Long: `Generates a new master key and re-encrypts every stored credential
and audit actor field under it. The audit chain is re-signed with the
new key. On failure the previous key and data are restored.

Passphrase envelopes are not affected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			targets := []vault.Reencrypter{s}
			l, err := a.openAudit()
			if err != nil {
				return err
			}
			if l != nil {
				targets = append(targets, l)
			}

			res, err := a.vault.Rotate(cmd.Context(), keepBackup, targets...)
			if err != nil {
				a.record(audit.Entry{
					Operation: audit.OpKeyRotate,
					Result:    audit.ResultError,
					Error:     &audit.ErrorInfo{Message: err.Error()},
				})
				return err
			}
			a.record(audit.Entry{
				Operation: audit.OpKeyRotate,
				Context: map[string]string{
					"reencrypted": strconv.Itoa(res.Reencrypted),
					"backup_kept": strconv.FormatBool(res.BackupKept),
				},
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Master key rotated, %d value(s) re-encrypted\n", res.Reencrypted)
			if res.BackupKept && res.BackupPath != "" {
				fmt.Fprintf(out, "Previous key kept at %s\n", res.BackupPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepBackup, "keep-backup", false, "Keep the previous key file after rotation")
	return cmd
}

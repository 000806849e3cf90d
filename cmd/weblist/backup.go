package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/backup"
	"github.com/forest6511/weblist/pkg/crypto"
	"github.com/forest6511/weblist/pkg/vault"
)

func newBackupCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export all credentials to an encrypted backup file",
		Long: `Writes every stored credential to a single file encrypted with a
passphrase. The backup does not depend on the master key, so it can be
restored into a vault with a different key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			pass, err := a.readNewSecret(cmd, "Backup passphrase: ")
			if err != nil {
				return err
			}
			passBytes := []byte(pass)
			defer crypto.SecureWipe(passBytes)

			var buf bytes.Buffer
			header, err := backup.Backup(cmd.Context(), s, &buf, backup.Options{
				Passphrase: passBytes,
				Iterations: a.cfg.Vault.KDFIterations,
			})
			if err != nil {
				a.record(audit.Entry{Operation: audit.OpVaultBackup, Result: audit.ResultError, Error: &audit.ErrorInfo{Message: err.Error()}})
				return err
			}
			if err := writeFileAtomic(output, buf.Bytes()); err != nil {
				return err
			}
			a.record(audit.Entry{
				Operation: audit.OpVaultBackup,
				Path:      output,
				Context:   map[string]string{"credentials": strconv.Itoa(header.CredentialCount)},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d credential(s) to %s\n", header.CredentialCount, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Backup file path")
	cmd.MarkFlagRequired("output")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var (
		onConflict string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "restore FILE",
		Short: "Restore credentials from a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := backup.ParseConflictMode(onConflict)
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			pass, err := a.readSecret(cmd, "Backup passphrase: ")
			if err != nil {
				return err
			}
			passBytes := []byte(pass)
			defer crypto.SecureWipe(passBytes)

			header, creds, err := backup.Read(f, passBytes)
			if err != nil {
				return err
			}
			res, err := backup.Restore(cmd.Context(), s, creds, mode, dryRun)
			if !dryRun {
				e := audit.Entry{Operation: audit.OpVaultRestore, Path: args[0]}
				if err != nil {
					e.Result = audit.ResultError
					e.Error = &audit.ErrorInfo{Message: err.Error()}
				}
				a.record(e)
			}
			if err != nil {
				return err
			}

			verb := "Restored"
			if dryRun {
				verb = "Would restore"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d of %d credential(s) from backup created %s", verb, res.Restored, header.CredentialCount, header.CreatedAt.Local().Format("2006-01-02 15:04"))
			if res.Skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d skipped", res.Skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&onConflict, "on-conflict", "error", "What to do with existing names: error, skip, overwrite")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be restored without writing")
	return cmd
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(vault.FileMode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/internal/cli"
	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/backup"
	"github.com/forest6511/weblist/pkg/crypto"
	"github.com/forest6511/weblist/pkg/importer"
	"github.com/forest6511/weblist/pkg/security"
	"github.com/forest6511/weblist/pkg/vault"
)

func newCredentialCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage stored service credentials",
		Long: `Stores the credentials weblist uses to reach storage providers and
other services, encrypted with the master key.`,
	}
	cmd.AddCommand(
		newCredentialSetCmd(a),
		newCredentialGenerateCmd(a),
		newCredentialGetCmd(a),
		newCredentialListCmd(a),
		newCredentialDeleteCmd(a),
		newCredentialCheckCmd(a),
		newCredentialImportCmd(a),
	)
	return cmd
}

func newCredentialSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Store a credential",
		Long: `Stores a credential under NAME, replacing any previous value.
The value is prompted for without echo when not passed as an argument.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			name := args[0]
			value, err := argOrSecret(a, cmd, args[1:], "Enter value: ")
			if err != nil {
				return err
			}

			err = s.Put(cmd.Context(), name, value)
			a.record(credentialEntry(audit.OpCredentialSet, name, err))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential '%s' saved\n", name)
			if security.Evaluate(value, security.KindOf(name)) == security.Weak {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: '%s' has a weak value\n", name)
			}
			return nil
		},
	}
}

func newCredentialGenerateCmd(a *app) *cobra.Command {
	var opts security.GenerateOptions
	cmd := &cobra.Command{
		Use:   "generate [NAME]",
		Short: "Generate a random credential value",
		Long: `Generates a random value from crypto/rand. With NAME the value is
stored under NAME and not printed; without it the value is printed.

Examples:
  weblist credential generate storage/password
  weblist credential generate -l 32 --no-symbols
  weblist credential generate --exclude "0O1lI"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := security.Generate(opts)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			name := args[0]
			err = s.Put(cmd.Context(), name, value)
			e := credentialEntry(audit.OpCredentialSet, name, err)
			e.Context = map[string]string{"generated": "true"}
			a.record(e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated credential '%s' (%d characters)\n", name, len(value))
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.Length, "length", "l", security.DefaultGenerateLength,
		fmt.Sprintf("Value length (%d-%d)", security.MinGenerateLength, security.MaxGenerateLength))
	cmd.Flags().BoolVar(&opts.NoSymbols, "no-symbols", false, "Exclude symbols")
	cmd.Flags().BoolVar(&opts.NoDigits, "no-numbers", false, "Exclude digits")
	cmd.Flags().BoolVar(&opts.NoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	cmd.Flags().BoolVar(&opts.NoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	cmd.Flags().StringVar(&opts.Exclude, "exclude", "", "Characters to exclude")
	return cmd
}

func newCredentialGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME|PATTERN...",
		Short: "Print credential values",
		Long: `Prints the value of each named credential. Glob patterns such as
'storage/*' select every matching name; with more than one match the
output is NAME=VALUE lines.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeCredentialNames(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			names, err := expandNames(cmd.Context(), s, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range names {
				value, err := s.Get(cmd.Context(), name)
				a.record(credentialEntry(audit.OpCredentialGet, name, err))
				if err != nil {
					return err
				}
				if len(names) == 1 {
					fmt.Fprintln(out, value)
				} else {
					fmt.Fprintf(out, "%s=%s\n", name, value)
				}
			}
			return nil
		},
	}
}

func newCredentialListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List credential names",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			infos, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\n", info.Name, info.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newCredentialDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "delete NAME|PATTERN...",
		Aliases: []string{"rm"},
		Short:   "Delete credentials",
		Long: `Deletes each named credential. Patterns are expanded first and the
matches are confirmed unless --force is given.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeCredentialNames(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			names, err := expandNames(cmd.Context(), s, args)
			if err != nil {
				return err
			}

			if !force {
				out := cmd.ErrOrStderr()
				fmt.Fprintln(out, "The following credentials will be deleted:")
				for _, name := range names {
					fmt.Fprintf(out, "  %s\n", name)
				}
				if !a.confirm(cmd, fmt.Sprintf("Delete %d credential(s)?", len(names))) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			var errs []error
			for _, name := range names {
				_, err := s.Delete(cmd.Context(), name)
				a.record(credentialEntry(audit.OpCredentialDelete, name, err))
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Credential '%s' deleted\n", name)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func newCredentialCheckCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report weak and reused credential values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			infos, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			values := make(map[string]string, len(infos))
			for _, info := range infos {
				v, err := s.Get(cmd.Context(), info.Name)
				if err != nil {
					return fmt.Errorf("%s: %w", info.Name, err)
				}
				values[info.Name] = v
			}
			report, err := security.Check(values)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(out, "%d credential(s) checked\n", report.Total)
			for _, w := range report.Weak {
				fmt.Fprintf(out, "weak: %s\n", w.Name)
			}
			for _, d := range report.Duplicates {
				fmt.Fprintf(out, "reused: %s\n", strings.Join(d.Names, ", "))
			}
			if len(report.Weak) == 0 && len(report.Duplicates) == 0 {
				fmt.Fprintln(out, "No issues found")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newCredentialImportCmd(a *app) *cobra.Command {
	var (
		format     string
		onConflict string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import credentials from a dotenv, CSV or Bitwarden export",
		Long: `Imports credentials from another tool. Names are sanitized to the
characters the store accepts and made unique.

Formats:
  env        KEY=VALUE lines
  csv        name,value rows
  bitwarden  unencrypted Bitwarden JSON export`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := importer.GetParser(importer.Format(format))
			if err != nil {
				return fmt.Errorf("%w (valid: %s)", err, strings.Join(importer.ValidFormats(), ", "))
			}
			mode, err := backup.ParseConflictMode(onConflict)
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			parsed, err := parser.Parse(data)
			crypto.SecureWipe(data)
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			for _, w := range parsed.Warnings {
				fmt.Fprintf(errOut, "warning: %s\n", w)
			}
			for _, sk := range parsed.Skipped {
				fmt.Fprintf(errOut, "skipped %q: %s\n", sk.OriginalName, sk.Reason)
			}

			creds := make([]backup.Credential, len(parsed.Credentials))
			for i, c := range parsed.Credentials {
				creds[i] = backup.Credential{Name: c.Name, Value: c.Value}
			}
			res, err := backup.Restore(cmd.Context(), s, creds, mode, dryRun)
			if err != nil {
				return err
			}
			if !dryRun {
				for _, c := range creds {
					a.record(audit.Entry{Operation: audit.OpCredentialSet, Path: c.Name, Context: map[string]string{"import": format}})
				}
			}
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d credential(s), %d skipped\n", verb, res.Restored, res.Skipped+len(parsed.Skipped))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(importer.FormatEnv), "Input format: env, csv, bitwarden")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "error", "What to do with existing names: error, skip, overwrite")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be imported without writing")
	return cmd
}

// expandNames resolves names and glob patterns against the stored names.
func expandNames(ctx context.Context, s *vault.Store, args []string) ([]string, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return cli.MatchAll(args, names)
}

func credentialEntry(op, name string, err error) audit.Entry {
	e := audit.Entry{Operation: op, Path: name, Result: audit.ResultSuccess}
	switch {
	case err == nil:
	case errors.Is(err, vault.ErrCredentialNotFound):
		e.Result = audit.ResultNotFound
	default:
		e.Result = audit.ResultError
		e.Error = &audit.ErrorInfo{Message: err.Error()}
	}
	return e
}

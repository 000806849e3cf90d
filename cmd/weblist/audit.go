package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/internal/cli"
	"github.com/forest6511/weblist/pkg/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditListCmd(a), newAuditVerifyCmd(a))
	return cmd
}

func (a *app) requireAudit() (*audit.Logger, error) {
	l, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("audit logging is disabled (audit.enabled: false)")
	}
	return l, nil
}

func newAuditListCmd(a *app) *cobra.Command {
	var (
		limit   int
		since   string
		op      string
		result  string
		decrypt bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		Long: `Lists audit events, oldest first. --op takes an exact operation such
as credential.get or a category prefix such as "file.".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.requireAudit()
			if err != nil {
				return err
			}
			f := audit.Filter{Operation: op, Result: result, Limit: limit}
			if since != "" {
				d, err := cli.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				f.Since = time.Now().Add(-d)
			}

			events, err := l.ListEvents(f)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit events found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if decrypt {
				fmt.Fprintln(w, "TIME\tOPERATION\tPATH\tRESULT\tUSER\tIP")
			} else {
				fmt.Fprintln(w, "TIME\tOPERATION\tPATH\tRESULT")
			}
			for i := range events {
				e := &events[i]
				ts := e.Timestamp
				if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
					ts = t.Local().Format(time.DateTime)
				}
				if !decrypt {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ts, e.Operation, e.Path, e.Result)
					continue
				}
				user, ip, err := l.DecryptActor(e)
				if err != nil {
					user, ip = "?", "?"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ts, e.Operation, e.Path, e.Result, user, ip)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to show")
	cmd.Flags().StringVar(&since, "since", "", "Show events since duration (e.g., 24h, 7d)")
	cmd.Flags().StringVar(&op, "op", "", "Filter by operation or category prefix")
	cmd.Flags().StringVar(&result, "result", "", "Filter by result (success, error, denied, not_found)")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "Show decrypted user and IP")
	return cmd
}

func newAuditVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.requireAudit()
			if err != nil {
				return err
			}
			res, err := l.Verify()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Valid {
				fmt.Fprintf(out, "Audit log OK: %d record(s) verified\n", res.RecordsVerified)
				return nil
			}
			fmt.Fprintf(out, "Audit log INVALID: %d of %d record(s) verified\n", res.RecordsVerified, res.RecordsTotal)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		},
	}
}

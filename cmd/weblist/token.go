package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/crypto"
	"github.com/forest6511/weblist/pkg/token"
)

// issuer builds a token issuer keyed from the master key. ttl overrides
// the configured lifetime when non-zero.
func (a *app) issuer(ttl time.Duration) (*token.Issuer, error) {
	if err := a.requireKey(); err != nil {
		return nil, err
	}
	secret, err := a.vault.SigningKey()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(secret)

	if ttl == 0 {
		ttl = a.cfg.Token.TTL
	}
	return token.New(token.Config{Secret: secret, TTL: ttl, Issuer: a.cfg.Token.Issuer})
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify session tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(a), newTokenVerifyCmd(a))
	return cmd
}

type issuedToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenIssueCmd(a *app) *cobra.Command {
	var (
		ttl    time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "issue SUBJECT",
		Short: "Issue a signed session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, err := a.issuer(ttl)
			if err != nil {
				return err
			}
			signed, claims, err := iss.IssueWithClaims(args[0])
			if err != nil {
				return err
			}
			a.record(audit.Entry{
				Operation: audit.OpTokenIssue,
				Context:   map[string]string{"subject": claims.Subject, "jti": claims.ID, "ttl": iss.TTL().String()},
			})

			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprintln(out, signed)
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(issuedToken{Token: signed, Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time.UTC()})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print token and expiry as JSON")
	return cmd
}

func newTokenVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [TOKEN]",
		Short: "Verify a session token and print its subject",
		Long:  `Verifies a token read from the argument or stdin. Exits non-zero when the token is expired, forged or malformed.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := argOrLine(a, args)
			if err != nil {
				return err
			}
			iss, err := a.issuer(0)
			if err != nil {
				return err
			}
			subject, err := iss.Verify(strings.TrimSpace(tok))
			if err != nil {
				a.record(audit.Entry{
					Operation: audit.OpTokenRejected,
					Result:    audit.ResultDenied,
					Error:     &audit.ErrorInfo{Message: err.Error()},
				})
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), subject)
			return nil
		},
	}
}

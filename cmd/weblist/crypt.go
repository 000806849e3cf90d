package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/pkg/security"
	"github.com/forest6511/weblist/pkg/vault"
)

func newEncryptCmd(a *app) *cobra.Command {
	var usePassphrase bool
	cmd := &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a value into an envelope",
		Long: `Encrypts a value with the master key, or with a passphrase when -p
is given. The value is read from stdin when not passed as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase string
			if usePassphrase {
				p, err := a.readNewSecret(cmd, "Passphrase: ")
				if err != nil {
					return err
				}
				if p == "" {
					return errors.New("passphrase must not be empty")
				}
				if security.Passphrase(p) == security.Weak {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning: passphrase is weak, use at least 8 characters")
				}
				passphrase = p
			} else if err := a.requireKey(); err != nil {
				return err
			}

			value, err := argOrSecret(a, cmd, args, "Value: ")
			if err != nil {
				return err
			}
			envelope, err := a.vault.Encrypt(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), envelope)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&usePassphrase, "passphrase", "p", false, "Encrypt with a passphrase instead of the master key")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var usePassphrase bool
	cmd := &cobra.Command{
		Use:   "decrypt [envelope]",
		Short: "Decrypt an envelope",
		Long: `Decrypts an envelope produced by encrypt. Passphrase envelopes are
detected and prompt for the passphrase.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := argOrLine(a, args)
			if err != nil {
				return err
			}
			envelope = strings.TrimSpace(envelope)

			var passphrase string
			if usePassphrase || vault.ModeOf(envelope) == vault.ModePassphrase {
				if passphrase, err = a.readSecret(cmd, "Passphrase: "); err != nil {
					return err
				}
			} else if err := a.requireKey(); err != nil {
				return err
			}

			plaintext, err := a.vault.Decrypt(envelope, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&usePassphrase, "passphrase", "p", false, "Prompt for a passphrase")
	return cmd
}

func argOrSecret(a *app, cmd *cobra.Command, args []string, prompt string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return a.readSecret(cmd, prompt)
}

func argOrLine(a *app, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return a.readLine()
}

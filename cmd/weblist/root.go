package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/weblist/internal/config"
	"github.com/forest6511/weblist/internal/logging"
	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/vault"
)

// app holds the instances shared by one command invocation.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	vault  *vault.Vault

	store *vault.Store
	audit *audit.Logger

	in *bufio.Reader
}

func newRootCmd(a *app) *cobra.Command {
	var configPath, home string

	root := &cobra.Command{
		Use:           "weblist",
		Short:         "weblist guards the credentials, caches and session tokens of a storage front-end",
		SilenceUsage:  true,
		SilenceErrors: true,
		// PersistentPreRunE runs before every subcommand and builds the
		// shared instances from configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, home)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg)
			a.vault = vault.New(cfg.Vault.KeyPath,
				vault.WithIterations(cfg.Vault.KDFIterations),
				vault.WithLogger(a.logger),
			)
			a.in = bufio.NewReader(cmd.InOrStdin())

			for _, w := range a.vault.CheckPermissions() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $WEBLIST_HOME/config.yaml)")
	root.PersistentFlags().StringVar(&home, "home", "", "data directory (default $WEBLIST_HOME or ~/.weblist)")

	root.AddCommand(
		newInitCmd(a),
		newEncryptCmd(a),
		newDecryptCmd(a),
		newCredentialCmd(a),
		newRotateCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newTokenCmd(a),
		newAuditCmd(a),
		newFilesCmd(a),
		newConfigCmd(a),
		newMCPServerCmd(a),
		newCompletionCmd(),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nSee '%s --help'", err, cmd.CommandPath())
	})
	return root
}

// execute runs root and closes the shared instances, also when the
// command fails.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

// requireKey fails unless the master key has been created by init.
func (a *app) requireKey() error {
	if _, err := os.Stat(a.vault.KeyPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("vault is not initialized at %s (run 'weblist init')", a.cfg.Home)
		}
		return fmt.Errorf("%w: %v", vault.ErrKeyFileUnavailable, err)
	}
	return nil
}

func (a *app) openStore() (*vault.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.requireKey(); err != nil {
		return nil, err
	}
	s, err := vault.OpenStore(a.cfg.Vault.StorePath, a.vault)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// openAudit returns the audit logger, or nil when auditing is disabled.
func (a *app) openAudit() (*audit.Logger, error) {
	if a.audit != nil || !a.cfg.Audit.Enabled {
		return a.audit, nil
	}
	if err := a.requireKey(); err != nil {
		return nil, err
	}
	l, err := audit.Open(audit.Config{Dir: a.cfg.Audit.Dir, Keys: a.vault, Cipher: a.vault})
	if err != nil {
		return nil, err
	}
	a.audit = l
	return l, nil
}

// record writes an audit entry. Audit failures are logged, not returned.
func (a *app) record(e audit.Entry) {
	l, err := a.openAudit()
	if err != nil {
		a.logger.Warn().Err(err).Msg("audit log unavailable")
		return
	}
	if l == nil {
		return
	}
	if e.User == "" {
		e.User = currentUser()
	}
	if e.Source == "" {
		e.Source = audit.SourceCLI
	}
	if _, err := l.Log(e); err != nil {
		a.logger.Warn().Err(err).Str("op", e.Operation).Msg("failed to write audit record")
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func isTerminal(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readLine reads a single line from stdin, trimming the line ending.
func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if err == io.EOF && line == "" {
		return "", io.ErrUnexpectedEOF
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readSecret prompts without echo on a terminal and falls back to one
// line of piped input.
func (a *app) readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd, tty := isTerminal(cmd.InOrStdin())
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if !tty {
		return a.readLine()
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

// readNewSecret is readSecret with confirmation on a terminal.
func (a *app) readNewSecret(cmd *cobra.Command, prompt string) (string, error) {
	first, err := a.readSecret(cmd, prompt)
	if err != nil {
		return "", err
	}
	if _, tty := isTerminal(cmd.InOrStdin()); !tty {
		return first, nil
	}
	second, err := a.readSecret(cmd, "Confirm: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("inputs do not match")
	}
	return first, nil
}

// confirm asks a yes/no question; anything but y/yes is no.
func (a *app) confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	answer, err := a.readLine()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

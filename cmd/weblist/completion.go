package main

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate completion script for your shell",
		Long: `To load completions:

Bash:
  $ source <(weblist completion bash)

Zsh:
  $ weblist completion zsh > ~/.zsh/completions/_weblist

Fish:
  $ weblist completion fish > ~/.config/fish/completions/weblist.fish

PowerShell:
  PS> weblist completion powershell >> $PROFILE

Credential names are completed for 'credential get' and
'credential delete' once the vault is initialized.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		PersistentPreRunE:     func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE:    func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}

// completeCredentialNames offers stored names not already on the line.
func completeCredentialNames(a *app) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		// Completion requests skip the persistent hooks.
		if a.vault == nil {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
		}
		s, err := a.openStore()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		defer a.close()

		infos, err := s.List(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		used := make(map[string]bool, len(args))
		for _, arg := range args {
			used[arg] = true
		}
		var names []string
		for _, info := range infos {
			if !used[info.Name] {
				names = append(names, info.Name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

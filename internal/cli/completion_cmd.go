package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// completionScripts maps a shell to its script generator.
var completionScripts = map[string]func(w io.Writer) error{
	"bash":       func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
	"zsh":        func(w io.Writer) error { return rootCmd.GenZshCompletion(w) },
	"fish":       func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
	"powershell": func(w io.Writer) error { return rootCmd.GenPowerShellCompletionWithDesc(w) },
}

var completionCmd = &cobra.Command{
	Use:   "completion <bash|zsh|fish|powershell>",
	Short: "Print a shell completion script",
	Long: `Print a shell completion script for chromefleet.

Besides subcommands and flags, the script completes values read from the
fleet itself:
  profile names    launch, profile show/set-proxy/delete, lock, sticky
  preset keys      profile create --preset, profile list --preset
  proxy schemes    every --scheme flag
  setting keys     settings set

Profile names come from the profile database at completion time, so the
config file must be readable by the shell's user.

Try it in the current shell:
  source <(chromefleet completion bash)
  chromefleet completion fish | source

Install for new shells:
  chromefleet completion bash > ~/.local/share/bash-completion/completions/chromefleet
  chromefleet completion zsh > "${fpath[1]}/_chromefleet"
  chromefleet completion fish > ~/.config/fish/completions/chromefleet.fish`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	// Script generation needs no application context.
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return completionScripts[args[0]](os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"chromefleet/internal/presets"
)

// knownSettings are the runtime settings read from the database. Each
// validator rejects values the application would ignore.
var knownSettings = map[string]func(string) error{
	"scan_workers":        positiveInt,
	"validate_timeout_ms": positiveInt,
	"default_preset": func(v string) error {
		if !presets.Valid(v) {
			return fmt.Errorf("unknown preset: %s", v)
		}
		return nil
	},
}

func positiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("expected a positive integer, got %q", v)
	}
	return nil
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change runtime settings",
	Long:  "Runtime settings live in the database and override the config file. Command-line flags override both.",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := appInstance.Storage.GetAllSettings(context.Background())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(knownSettings))
		for k := range knownSettings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := newTabWriter()
		fmt.Fprintln(w, "KEY\tVALUE")
		fmt.Fprintln(w, "---\t-----")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, orDash(settings[k]))
		}
		return w.Flush()
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a runtime setting",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var keys []string
		for k := range knownSettings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		validate, ok := knownSettings[args[0]]
		if !ok {
			return fmt.Errorf("unknown setting: %s", args[0])
		}
		if err := validate(args[1]); err != nil {
			return err
		}
		if err := appInstance.Storage.SetSetting(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to save setting: %w", err)
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

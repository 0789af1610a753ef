package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"chromefleet/internal/app"
	"chromefleet/internal/presets"
	"chromefleet/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp() error {
	if appInstance != nil {
		return nil
	}
	var err error
	appInstance, err = app.New(app.Options{LogLevel: "error"})
	return err
}

// completeProfileNames provides shell completion for profile names.
func completeProfileNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	profiles, err := appInstance.Storage.GetAllProfiles(context.Background(), storage.ProfileFilter{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, p := range profiles {
		if strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(toComplete)) {
			completions = append(completions, p.Name)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completePresetKeys provides preset key completion for --preset flags.
func completePresetKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, key := range presets.Keys() {
		if strings.HasPrefix(key, strings.ToLower(toComplete)) {
			completions = append(completions, key)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func completeSchemes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"http", "https", "socks4", "socks5"}, cobra.ShellCompDirectiveNoFileComp
}

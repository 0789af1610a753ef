package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chromefleet/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chromefleet",
	Short: "Chromefleet - isolated browser profiles behind proxies",
	Long: `Chromefleet - isolated browser profiles behind proxies

  Launch Chromium profiles, each with its own identity and upstream proxy.

  Quick start:
    chromefleet proxy import proxies.txt --scan
    chromefleet profile create shop-1 --preset de_berlin
    chromefleet launch shop-1

  Core features:
    • Per-profile user agent, language, timezone and geolocation
    • Proxy pool with validation cache and sticky bindings
    • Local relay for authenticated proxies (xray or gost)
    • Launch locks that survive crashes and self-heal`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			err := appInstance.Close()
			appInstance = nil
			return err
		}
		return nil
	},
}

func initApp(cmd *cobra.Command) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	if appInstance != nil {
		appInstance.Close()
	}
	var err error
	appInstance, err = app.New(app.Options{ConfigPath: cfgPath, LogLevel: level, LogOutput: os.Stderr})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return nil
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No application context needed.
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chromefleet %s\n", version)
	},
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chromefleet/internal/app"
	"chromefleet/internal/launcher"
	pkgerrors "chromefleet/pkg/errors"
)

var launchCmd = &cobra.Command{
	Use:   "launch <profile>",
	Short: "Launch a browser for a profile",
	Long: `Launch a browser for a profile.

The proxy is the one stored on the profile, else the profile's sticky
binding, else a fresh live endpoint from the pool. Launching a profile
whose browser is still alive reports the running PID instead.

Authenticated proxies go through a local relay; the command then stays
in the foreground until the browser exits, since the relay lives inside
this process.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := resolveProfile(ctx, args[0])
		if err != nil {
			return err
		}

		opts := app.LaunchOptions{}
		opts.DebugPort, _ = cmd.Flags().GetInt("debug-port")
		opts.ExtraFlags, _ = cmd.Flags().GetStringArray("flag")
		opts.NoOverrides, _ = cmd.Flags().GetBool("no-overrides")
		opts.ForcePAC, _ = cmd.Flags().GetBool("pac")

		res, err := appInstance.LaunchProfile(ctx, p.ID, opts)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNoLiveProxy) {
				return fmt.Errorf("%w (import proxies with: chromefleet proxy import <file> --scan)", err)
			}
			return err
		}

		if res.AlreadyRunning {
			fmt.Printf("%s is already running (PID %d)\n", p.Name, res.PID)
			return nil
		}

		fmt.Println(okStyle.Render("Browser launched!"))
		fmt.Println()
		printResult(res)

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait && res.Relay == "" {
			return nil
		}

		fmt.Println()
		fmt.Println(dimStyle.Render("Waiting for the browser to exit (Ctrl+C to detach)..."))
		done := make(chan struct{})
		go func() {
			appInstance.Launcher.Wait()
			close(done)
		}()
		select {
		case <-done:
			fmt.Printf("%s exited\n", p.Name)
		case <-ctx.Done():
			fmt.Println()
			fmt.Println(warnStyle.Render("Detached; stopping the relay."))
		}
		return nil
	},
}

func printResult(res *launcher.Result) {
	field("PID", res.PID)
	field("Directory", res.ProfileDir)
	if res.Proxy != nil {
		field("Proxy", fmt.Sprintf("%s (%s)", res.Proxy.Redacted(), res.Source))
	} else {
		field("Proxy", res.Source)
	}
	if res.Relay != "" {
		field("Relay", res.Relay)
	}
	if verboseArgs {
		field("Arguments", strings.Join(res.Args, " "))
	}
}

var verboseArgs bool

func init() {
	launchCmd.Flags().Bool("wait", false, "stay in the foreground until the browser exits")
	launchCmd.Flags().Int("debug-port", 0, "remote debugging port (default: free port when overrides apply)")
	launchCmd.Flags().StringArray("flag", nil, "extra browser flag (repeatable)")
	launchCmd.Flags().Bool("no-overrides", false, "skip runtime overrides over the debug port")
	launchCmd.Flags().Bool("pac", false, "route credential-free proxies through a PAC script")
	launchCmd.Flags().BoolVar(&verboseArgs, "show-args", false, "print the browser command line")

	rootCmd.AddCommand(launchCmd)
}

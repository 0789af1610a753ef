package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chromefleet/internal/proxy"
)

var stickyCmd = &cobra.Command{
	Use:   "sticky",
	Short: "Inspect and edit sticky proxy bindings",
	Long: `Profiles without a stored proxy get a live endpoint from the pool on
launch. That endpoint stays bound to the profile for the sticky TTL so
relaunches keep their exit IP.`,
}

var stickyGetCmd = &cobra.Command{
	Use:               "get <profile>",
	Short:             "Show the current binding",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(context.Background(), args[0])
		if err != nil {
			return err
		}
		ep, err := appInstance.Pool.GetSticky(p.ID)
		if err != nil {
			return err
		}
		if ep == nil {
			fmt.Printf("%s has no live binding\n", p.Name)
			return nil
		}
		fmt.Printf("%s -> %s\n", p.Name, ep.Redacted())
		return nil
	},
}

var stickySetCmd = &cobra.Command{
	Use:   "set <profile> <proxy>",
	Short: "Bind a proxy to a profile for the sticky TTL",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return completeProfileNames(cmd, args, toComplete)
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(context.Background(), args[0])
		if err != nil {
			return err
		}
		scheme, _ := cmd.Flags().GetString("scheme")
		ep, err := parseProxyArg(args[1], proxy.NormalizeScheme(scheme, proxy.SchemeHTTP))
		if err != nil {
			return err
		}
		if err := appInstance.Pool.SetSticky(p.ID, ep); err != nil {
			return fmt.Errorf("failed to save binding: %w", err)
		}
		fmt.Printf("%s -> %s for %s\n", p.Name, ep.Redacted(), appInstance.Config.Pool.StickyTTL)
		return nil
	},
}

var stickyClearCmd = &cobra.Command{
	Use:               "clear <profile>",
	Short:             "Remove the binding",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(context.Background(), args[0])
		if err != nil {
			return err
		}
		if err := appInstance.Pool.ClearSticky(p.ID); err != nil {
			return fmt.Errorf("failed to clear binding: %w", err)
		}
		fmt.Printf("Cleared binding of %s\n", p.Name)
		return nil
	},
}

func init() {
	stickySetCmd.Flags().String("scheme", "http", "scheme for a proxy given without one")
	stickySetCmd.RegisterFlagCompletionFunc("scheme", completeSchemes)

	stickyCmd.AddCommand(stickyGetCmd, stickySetCmd, stickyClearCmd)
	rootCmd.AddCommand(stickyCmd)
}

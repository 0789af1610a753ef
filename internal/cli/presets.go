package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromefleet/internal/presets"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List locale presets",
	// Presets are built in; no application context needed.
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		w := newTabWriter()
		fmt.Fprintln(w, "KEY\tCOUNTRY\tTIMEZONE\tLANGUAGES\tLABEL")
		fmt.Fprintln(w, "---\t-------\t--------\t---------\t-----")
		for _, p := range presets.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.Key, orDash(p.Country), orDash(p.Timezone), orDash(truncateName(p.AcceptLanguage, 28)), p.Label)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

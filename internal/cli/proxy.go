package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chromefleet/internal/app"
	"chromefleet/internal/proxy"
	"chromefleet/internal/proxy/validator"
	pkgerrors "chromefleet/pkg/errors"
)

var proxyCmd = &cobra.Command{
	Use:     "proxy",
	Aliases: []string{"proxies"},
	Short:   "Manage the proxy pool",
	Long:    "Import, list, validate, select, and fetch pool proxies",
}

var proxyImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import proxy candidates into the catalog",
	Long: `Import proxy candidates into the catalog.

Every line is tried against the known formats; lines no format accepts
are dropped silently. Duplicates of catalog entries are skipped. With
--scan only candidates that validate are written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		scheme, _ := cmd.Flags().GetString("scheme")
		scan, _ := cmd.Flags().GetBool("scan")

		r, closeFn, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer closeFn()

		candidates, err := appInstance.Parser.ParseReader(r, proxy.NormalizeScheme(scheme, proxy.SchemeHTTP))
		if err != nil {
			return fmt.Errorf("failed to read candidates: %w", err)
		}
		candidates, err = withoutCatalogued(candidates)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("No new candidates found.")
			return nil
		}

		if scan {
			fmt.Printf("Validating %d candidates...\n\n", len(candidates))
			result, err := appInstance.ScanWith(ctx, candidates, scanOptions(cmd), printProgress)
			if err != nil {
				return err
			}
			candidates = result.Live()
			fmt.Println()
		}

		n, err := appInstance.Pool.AppendToCatalog(candidates)
		if err != nil {
			return err
		}
		fmt.Printf("Added %d endpoints to the catalog\n", n)
		return nil
	},
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog endpoints with their cached state",
	RunE: func(cmd *cobra.Command, args []string) error {
		country, _ := cmd.Flags().GetString("country")
		liveOnly, _ := cmd.Flags().GetBool("live")

		catalog, err := appInstance.Pool.ReadCatalog()
		if err != nil {
			return err
		}
		if len(catalog) == 0 {
			fmt.Println("Catalog is empty.")
			return nil
		}

		w := newTabWriter()
		fmt.Fprintln(w, "#\tSCHEME\tADDRESS\tAUTH\tCOUNTRY\tSTATE\tLATENCY\tEXIT IP")
		fmt.Fprintln(w, "-\t------\t-------\t----\t-------\t-----\t-------\t-------")

		shown, live := 0, 0
		for _, ep := range catalog {
			outcome, cached := appInstance.Pool.Cached(ep)
			epCountry := ep.Country
			if epCountry == "" && cached {
				epCountry = outcome.CountryCode
			}
			if country != "" && !strings.EqualFold(epCountry, country) {
				continue
			}
			if cached && outcome.OK {
				live++
			} else if liveOnly {
				continue
			}

			auth := "-"
			if ep.HasAuth() {
				auth = "yes"
			}
			state, latency, ip := "?", "N/A", "-"
			if cached {
				state = "dead"
				if outcome.OK {
					state = "live"
					latency = fmt.Sprintf("%d ms", outcome.LatencyMS)
					ip = outcome.IP
				}
			}
			shown++
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				shown, ep.Scheme, ep.Addr(), auth, orDash(epCountry), state, latency, ip)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d endpoints, %d live in cache\n", shown, live)
		return nil
	},
}

var proxyTestCmd = &cobra.Command{
	Use:   "test [proxy]",
	Short: "Validate proxies",
	Long: `Validate a single proxy, or the whole catalog with --all.

Default strategy is HTTP (fetches an IP echo service through the proxy and
geolocates the exit IP). Use --strategy tcp for a fast handshake test;
handshake results are not cached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		all, _ := cmd.Flags().GetBool("all")
		opts := scanOptions(cmd)

		if all {
			catalog, err := appInstance.Pool.ReadCatalog()
			if err != nil {
				return err
			}
			if len(catalog) == 0 {
				fmt.Println("Catalog is empty.")
				return nil
			}
			return runBatchScan(ctx, catalog, opts)
		}

		if len(args) == 0 {
			return fmt.Errorf("please specify a proxy, or use --all")
		}
		scheme, _ := cmd.Flags().GetString("scheme")
		ep, err := parseProxyArg(args[0], proxy.NormalizeScheme(scheme, proxy.SchemeHTTP))
		if err != nil {
			return err
		}

		fmt.Printf("Testing %s... ", ep.Redacted())
		result, err := appInstance.ScanWith(ctx, []proxy.Endpoint{ep}, opts, nil)
		if err != nil {
			return err
		}
		if len(result.Items) == 0 {
			return ctx.Err()
		}
		item := result.Items[0]
		if item.Outcome.OK && !item.Matched {
			fmt.Printf("%s (wrong country)\n", item.Outcome.Summary())
			return nil
		}
		fmt.Println(item.Outcome.Summary())
		return nil
	},
}

var proxySelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick one live endpoint from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		country, _ := cmd.Flags().GetString("country")
		scheme, _ := cmd.Flags().GetString("scheme")

		ep, outcome, err := appInstance.Pool.SelectLive(ctx, country, scheme)
		if err != nil {
			return err
		}
		if ep == nil {
			return pkgerrors.ErrNoLiveProxy
		}

		field("Proxy", ep.Redacted())
		if outcome != nil {
			field("Exit IP", outcome.IP)
			if outcome.Country != "" {
				field("Country", fmt.Sprintf("%s (%s)", outcome.Country, outcome.CountryCode))
			}
			field("Latency", fmt.Sprintf("%d ms", outcome.LatencyMS))
		}
		return nil
	},
}

var proxyFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Gather and validate candidates from the configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		appendLive, _ := cmd.Flags().GetBool("append")
		opts := scanOptions(cmd)

		names := appInstance.Sources.Sources()
		if len(names) == 0 {
			return fmt.Errorf("no sources configured ([sources] urls in the config file)")
		}
		fmt.Printf("Fetching %d sources...\n", len(names))

		candidates, errs := appInstance.Sources.Gather(ctx, opts.Country)
		for _, err := range errs {
			var srcErr *pkgerrors.SourceError
			if errors.As(err, &srcErr) {
				fmt.Fprintln(os.Stderr, warnStyle.Render("  skipped "+srcErr.Name+": "+srcErr.Err.Error()))
			}
		}
		if len(candidates) == 0 {
			return fmt.Errorf("%w: no candidates gathered", pkgerrors.ErrSourceFetchFailed)
		}
		candidates, err := withoutCatalogued(candidates)
		if err != nil {
			return err
		}
		fmt.Printf("Validating %d new candidates...\n\n", len(candidates))

		result, err := appInstance.ScanWith(ctx, candidates, opts, printProgress)
		if err != nil {
			return err
		}
		live := result.Live()
		fmt.Printf("\n%d of %d candidates are live (%.1fs)\n", len(live), result.Tested, result.Duration.Seconds())

		if appendLive {
			n, err := appInstance.Pool.AppendToCatalog(live)
			if err != nil {
				return err
			}
			fmt.Printf("Added %d endpoints to the catalog\n", n)
		}
		return nil
	},
}

func runBatchScan(ctx context.Context, endpoints []proxy.Endpoint, opts app.ScanOptions) error {
	fmt.Printf("Testing %d endpoints...\n\n", len(endpoints))

	batch, err := appInstance.ScanWith(ctx, endpoints, opts, printProgress)
	if err != nil {
		return err
	}

	fmt.Printf("\n\nResults (sorted by latency):\n")
	fmt.Println(strings.Repeat("─", 75))

	w := newTabWriter()
	fmt.Fprintln(w, "#\tADDRESS\tSCHEME\tLATENCY\tCOUNTRY\tSTATUS")
	fmt.Fprintln(w, "-\t-------\t------\t-------\t-------\t------")
	for i, item := range batch.Items {
		latStr, status := "N/A", "FAIL"
		if item.Outcome.OK {
			latStr = fmt.Sprintf("%d ms", item.Outcome.LatencyMS)
			status = "OK"
			if !item.Matched {
				status = "COUNTRY"
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, item.Endpoint.Addr(), item.Endpoint.Scheme, latStr, orDash(item.Outcome.CountryCode), status)
	}
	w.Flush()

	fmt.Printf("\nSummary: %d tested, %d succeeded, %d failed (%.1fs)\n",
		batch.Tested, batch.Succeeded, batch.Failed, batch.Duration.Seconds())
	return nil
}

func printProgress(item *validator.ScanItem, current, total int) {
	name := truncateName(item.Endpoint.Redacted(), 40)
	switch {
	case item.Outcome.OK && item.Matched:
		fmt.Printf("  [%d/%d] %-40s %d ms\n", current, total, name, item.Outcome.LatencyMS)
	case item.Outcome.OK:
		fmt.Printf("  [%d/%d] %-40s WRONG COUNTRY (%s)\n", current, total, name, item.Outcome.CountryCode)
	default:
		fmt.Printf("  [%d/%d] %-40s FAILED\n", current, total, name)
	}
}

// scanOptions reads the shared scan flags. Unset flags fall back to the
// configured values, which already include DB settings.
func scanOptions(cmd *cobra.Command) app.ScanOptions {
	var opts app.ScanOptions
	if f := cmd.Flags().Lookup("strategy"); f != nil {
		opts.Strategy = f.Value.String()
	}
	if f := cmd.Flags().Lookup("country"); f != nil {
		opts.Country = f.Value.String()
	}
	if cmd.Flags().Lookup("workers") != nil && cmd.Flags().Changed("workers") {
		opts.Workers, _ = cmd.Flags().GetInt64("workers")
	}
	if cmd.Flags().Lookup("timeout") != nil && cmd.Flags().Changed("timeout") {
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	return opts
}

// withoutCatalogued drops candidates that are already in the catalog.
func withoutCatalogued(candidates []proxy.Endpoint) ([]proxy.Endpoint, error) {
	existing, err := appInstance.Pool.ReadCatalog()
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, ep := range existing {
		known[ep.Key()] = struct{}{}
	}
	out := candidates[:0]
	for _, ep := range candidates {
		if _, ok := known[ep.Key()]; !ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("strategy", "s", "http", "validation strategy (http, tcp)")
	cmd.Flags().Int64P("workers", "w", 24, "number of concurrent workers")
	cmd.Flags().DurationP("timeout", "t", 6*time.Second, "per-probe timeout")
	cmd.Flags().String("country", "", "only accept exits in this country code")
	cmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"http", "tcp"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func init() {
	proxyImportCmd.Flags().String("scheme", "http", "scheme for candidates given without one")
	proxyImportCmd.Flags().Bool("scan", false, "only import candidates that validate")
	proxyImportCmd.RegisterFlagCompletionFunc("scheme", completeSchemes)
	addScanFlags(proxyImportCmd)

	proxyListCmd.Flags().String("country", "", "filter by country code")
	proxyListCmd.Flags().Bool("live", false, "only show endpoints cached as live")

	proxyTestCmd.Flags().Bool("all", false, "test every catalog endpoint")
	proxyTestCmd.Flags().String("scheme", "http", "scheme for a proxy given without one")
	proxyTestCmd.RegisterFlagCompletionFunc("scheme", completeSchemes)
	addScanFlags(proxyTestCmd)

	proxySelectCmd.Flags().String("country", "", "wanted country code")
	proxySelectCmd.Flags().String("scheme", "", "wanted scheme")
	proxySelectCmd.RegisterFlagCompletionFunc("scheme", completeSchemes)

	proxyFetchCmd.Flags().Bool("append", false, "append live results to the catalog")
	addScanFlags(proxyFetchCmd)

	proxyCmd.AddCommand(proxyImportCmd, proxyListCmd, proxyTestCmd, proxySelectCmd, proxyFetchCmd)
	rootCmd.AddCommand(proxyCmd)
}

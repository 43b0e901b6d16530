package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/report"
	"github.com/anstrom/portprobe/internal/scanner"
	"github.com/anstrom/portprobe/internal/store"
)

const storeTimeout = 10 * time.Second

// Scan command flags.
var (
	scanThreads     int
	scanTimeout     float64
	scanReadTimeout float64
	scanOutput      string
	scanTable       bool
	scanStore       bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <target> <start> <end>",
	Short: "Scan a port range on one host",
	Long: `Probe every TCP port from start to end (inclusive) on target.

Open ports are printed as soon as they are found, followed by the first
banner block the service sent, if any. Ports are clamped to 1-65535 and
an inverted range scans nothing.`,
	Example: `  portprobe scan 192.168.1.10 1 1024
  portprobe scan scanme.example.org 20 25 --threads 10 --timeout 1.5
  portprobe scan localhost 1 65535 --output results.csv --verbose`,
	Args: cobra.ExactArgs(3),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().IntVarP(&scanThreads, "threads", "t", scanner.DefaultConcurrency,
		"number of concurrent probes (clamped to 1-1000)")
	scanCmd.Flags().Float64Var(&scanTimeout, "timeout", scanner.DefaultTimeout.Seconds(),
		"connect timeout in seconds")
	scanCmd.Flags().Float64Var(&scanReadTimeout, "read-timeout", 0,
		"banner read timeout in seconds (default: connect timeout)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "CSV output file (optional)")
	scanCmd.Flags().BoolVar(&scanTable, "table", false, "print a table of open ports when done")
	scanCmd.Flags().BoolVar(&scanStore, "store", false, "save the summary to the configured database")

	if err := viper.BindPFlag("scan.concurrency", scanCmd.Flags().Lookup("threads")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind threads flag: %v\n", err)
	}
}

// parseScanArgs parses <target> <start> <end>.
func parseScanArgs(args []string) (target string, start, end int, err error) {
	target = args[0]
	if target == "" {
		return "", 0, 0, fmt.Errorf("target is required")
	}
	if start, err = strconv.Atoi(args[1]); err != nil {
		return "", 0, 0, fmt.Errorf("invalid start port %q", args[1])
	}
	if end, err = strconv.Atoi(args[2]); err != nil {
		return "", 0, 0, fmt.Errorf("invalid end port %q", args[2])
	}
	return target, start, end, nil
}

// applyScanFlags applies the seconds-based flags, which viper cannot bind to
// duration keys directly.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("timeout") {
		cfg.Scan.Timeout = secondsToDuration(scanTimeout)
	}
	if cmd.Flags().Changed("read-timeout") {
		cfg.Scan.ReadTimeout = secondsToDuration(scanReadTimeout)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	target, start, end, err := parseScanArgs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyScanFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scanOptions{
		output:  scanOutput,
		table:   scanTable,
		verbose: verbose,
	}
	if scanStore {
		if !cfg.Database.Enabled() {
			return fmt.Errorf("--store requires database settings in the configuration")
		}
		opts.store = cfg.Database
	}

	_, err = executeScan(ctx, cfg.ScannerConfig(target, start, end), opts, cmd.OutOrStdout())
	return err
}

// scanOptions controls what happens with a finished scan.
type scanOptions struct {
	output  string
	table   bool
	verbose bool
	store   store.Config
}

// executeScan runs one scan and prints progress to out. Export and storage
// failures are reported but do not fail the scan.
func executeScan(ctx context.Context, cfg scanner.Config, opts scanOptions, out io.Writer,
	scannerOpts ...scanner.Option) (scanner.Summary, error) {
	logger := logging.Default().WithComponent("cli")

	s, err := scanner.New(cfg, append([]scanner.Option{scanner.WithLogger(logger)}, scannerOpts...)...)
	if err != nil {
		return scanner.Summary{}, err
	}

	console := report.NewConsole(out, opts.verbose)
	console.Start(s.Target(), s.Concurrency(), s.Timeout())

	scan := s.Start(ctx)
	for res := range scan.Results() {
		console.Result(res)
	}
	summary := scan.Wait()
	console.Done(summary)

	if opts.table && len(summary.Open) > 0 {
		if err := report.Table(out, summary); err != nil {
			console.Failure("render table", err)
		}
	}

	if opts.output != "" {
		if err := report.SaveCSV(opts.output, summary); err != nil {
			console.Failure("write CSV", err)
		} else {
			console.Saved(opts.output)
		}
	}

	if opts.store.Enabled() {
		if err := saveSummary(opts.store, summary); err != nil {
			logger.Error("Failed to store scan summary", "scan_id", summary.ID, "error", err)
			console.Failure("store summary", err)
		}
	}

	return summary, nil
}

// saveSummary persists summary with its own deadline, so an interrupted scan
// is still recorded.
func saveSummary(cfg store.Config, summary scanner.Summary) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logging.Warn("Failed to close database", "error", closeErr)
		}
	}()

	return st.SaveSummary(ctx, summary)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portprobe/internal/api"
	apihandlers "github.com/anstrom/portprobe/internal/api/handlers"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/scanner"
	"github.com/anstrom/portprobe/internal/store"
)

const databaseTimeout = 10 * time.Second

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve the scan API in the foreground until interrupted.

Scans are started with POST /api/v1/scans or streamed over a websocket
from /api/v1/scans/stream. Summaries are stored when database settings
are configured, and Prometheus metrics are exposed on /metrics.`,
	Example: `  portprobe serve
  portprobe serve --host 0.0.0.0 --port 9090
  PORTPROBE_DATABASE_DATABASE=portprobe portprobe serve --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "override listen address")
	serveCmd.Flags().Int("port", 0, "override listen port")

	for key, flag := range map[string]string{"api.listen_addr": "host", "api.port": "port"} {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve wires the scanner, metrics and optional store into the API server
// and blocks until ctx is canceled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Default().WithComponent("serve")
	pm := metrics.NewPrometheusMetrics()

	runner := apihandlers.NewRunner(
		scanner.WithMetrics(pm),
		scanner.WithLogger(logging.Default()),
	)

	var summaries apihandlers.SummaryStore
	if cfg.Database.Enabled() {
		dbCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
		st, err := store.Connect(dbCtx, cfg.Database)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}()
		summaries = st
	} else {
		logger.Info("No database configured, summaries will not be stored")
	}

	server, err := api.New(cfg, runner, summaries, pm, version)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "[+] API listening on http://%s\n", server.GetAddress())
	return server.Start(ctx)
}

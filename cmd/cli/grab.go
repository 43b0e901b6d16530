package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/report"
	"github.com/anstrom/portprobe/internal/scanner"
)

// maxGrabWorkers bounds concurrent grabs for long port lists.
const maxGrabWorkers = 16

var grabTimeout float64

// grabCmd represents the grab command.
var grabCmd = &cobra.Command{
	Use:   "grab <target> <port>...",
	Short: "Grab banners from specific ports",
	Long: `Connect to each listed port on target and print the first block of data
the service sends. Lines are printed in the order the ports were given.`,
	Example: `  portprobe grab 192.168.1.10 22
  portprobe grab mail.example.org 25 110 143 --timeout 5`,
	Args: cobra.MinimumNArgs(2),
	RunE: runGrab,
}

func init() {
	rootCmd.AddCommand(grabCmd)

	grabCmd.Flags().Float64Var(&grabTimeout, "timeout", config.Default().Grab.Timeout.Seconds(),
		"socket timeout in seconds")
}

// parsePorts parses a list of port arguments.
func parsePorts(args []string) ([]int, error) {
	ports := make([]int, 0, len(args))
	for _, arg := range args {
		port, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", arg)
		}
		if port < scanner.MinPort || port > scanner.MaxPort {
			return nil, fmt.Errorf("port %d out of range %d-%d", port, scanner.MinPort, scanner.MaxPort)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func runGrab(cmd *cobra.Command, args []string) error {
	ports, err := parsePorts(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Grab.Timeout = secondsToDuration(grabTimeout)
	}
	if cfg.Grab.Timeout <= 0 {
		cfg.Grab.Timeout = config.Default().Grab.Timeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executeGrab(ctx, args[0], ports, cfg.Grab, probe.Probe, cmd.OutOrStdout())
	return nil
}

// executeGrab probes every port once and prints the lines in argument order.
func executeGrab(ctx context.Context, host string, ports []int, cfg config.GrabConfig, prober probe.Func, out io.Writer) {
	results := make([]probe.Result, len(ports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGrabWorkers)
	for i, port := range ports {
		req := probe.Request{
			Host:           host,
			Port:           port,
			ConnectTimeout: cfg.Timeout,
			BannerSize:     cfg.BannerSize,
		}
		g.Go(func() error {
			results[i] = prober(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	console := report.NewConsole(out, false)
	for _, res := range results {
		console.Grab(host, res)
	}
}

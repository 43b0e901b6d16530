// Package cli provides command-line interface commands for portprobe.
// This package implements the Cobra-based CLI structure with commands for
// range scans, banner grabbing and the HTTP API server.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
)

const envPrefix = "PORTPROBE"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portprobe",
	Short: "Concurrent TCP port scanner",
	Long: `portprobe connects to every port of a range on one host with a bounded
number of concurrent probes, reports open ports as they are found together
with any banner the service sends, and prints a port-sorted summary.`,
	Version:      getVersion(),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show every port tested (open or closed)")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// PORTPROBE_SCAN_CONCURRENCY overrides scan.concurrency and so on.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// override copies one viper key into the loaded configuration.
type override struct {
	key   string
	apply func(cfg *config.Config, v *viper.Viper)
}

// overrides lists the keys that environment variables and bound flags may
// set on top of the config file.
var overrides = []override{
	// An explicit value never means the default: 0 and below run one probe.
	{"scan.concurrency", func(c *config.Config, v *viper.Viper) {
		c.Scan.Concurrency = max(1, v.GetInt("scan.concurrency"))
	}},
	{"scan.max_concurrency", func(c *config.Config, v *viper.Viper) {
		c.Scan.MaxConcurrency = v.GetInt("scan.max_concurrency")
	}},
	{"scan.timeout", func(c *config.Config, v *viper.Viper) { c.Scan.Timeout = v.GetDuration("scan.timeout") }},
	{"scan.read_timeout", func(c *config.Config, v *viper.Viper) {
		c.Scan.ReadTimeout = v.GetDuration("scan.read_timeout")
	}},
	{"scan.banner_size", func(c *config.Config, v *viper.Viper) { c.Scan.BannerSize = v.GetInt("scan.banner_size") }},
	{"grab.timeout", func(c *config.Config, v *viper.Viper) { c.Grab.Timeout = v.GetDuration("grab.timeout") }},
	{"api.listen_addr", func(c *config.Config, v *viper.Viper) { c.API.ListenAddr = v.GetString("api.listen_addr") }},
	{"api.port", func(c *config.Config, v *viper.Viper) { c.API.Port = v.GetInt("api.port") }},
	{"api.max_ports", func(c *config.Config, v *viper.Viper) { c.API.MaxPorts = v.GetInt("api.max_ports") }},
	{"database.host", func(c *config.Config, v *viper.Viper) { c.Database.Host = v.GetString("database.host") }},
	{"database.port", func(c *config.Config, v *viper.Viper) { c.Database.Port = v.GetInt("database.port") }},
	{"database.database", func(c *config.Config, v *viper.Viper) {
		c.Database.Database = v.GetString("database.database")
	}},
	{"database.username", func(c *config.Config, v *viper.Viper) {
		c.Database.Username = v.GetString("database.username")
	}},
	{"database.password", func(c *config.Config, v *viper.Viper) {
		c.Database.Password = v.GetString("database.password")
	}},
	{"database.ssl_mode", func(c *config.Config, v *viper.Viper) { c.Database.SSLMode = v.GetString("database.ssl_mode") }},
	{"logging.level", func(c *config.Config, v *viper.Viper) {
		c.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}},
	{"logging.format", func(c *config.Config, v *viper.Viper) {
		c.Logging.Format = logging.LogFormat(v.GetString("logging.format"))
	}},
	{"logging.output", func(c *config.Config, v *viper.Viper) { c.Logging.Output = v.GetString("logging.output") }},
}

// loadConfig loads the config file viper found, applies environment and
// flag overrides and validates the result.
func loadConfig() (*config.Config, error) {
	return loadConfigFrom(viper.GetViper())
}

func loadConfigFrom(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secondsToDuration converts a float seconds flag value. Non-positive values
// map to zero so the scanner falls back to its default.
func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging
	logConfig.AddSource = logConfig.AddSource || logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)
	logger.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
}

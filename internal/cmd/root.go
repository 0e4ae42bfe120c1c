// Package cmd provides the command-line interface for sitecrawler.
// It handles command parsing, configuration loading and crawl execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/sitecrawler/internal/config"
)

// ErrResultNotOK is returned when a subscriber reported a failed result
var ErrResultNotOK = errors.New("crawl result is not ok")

var (
	cfgFile   string
	version   string
	buildTime string
)

const defaultUserAgent = "sitecrawler/1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitecrawler",
		Short: "A resumable site crawler with pluggable analyzers",
		Long: `sitecrawler crawls the hosts of its base URIs and hands every response
to subscribers such as the broken link checker.

Crawl state is persisted per job, so an interrupted crawl continues
where it stopped with "sitecrawler resume <job-id>".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			initConfig(cmd.ErrOrStderr())
			return bindFlags(cmd.Root().PersistentFlags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./sitecrawler.yml)")

	// Analysis
	flags.StringSliceP("subscribers", "s", []string{"broken-link-checker"}, "Subscribers to run (see 'sitecrawler subscribers')")
	flags.StringSlice("additional-uri", []string{}, "Additional base URIs widening the crawl boundary")

	// Requests
	flags.IntP("concurrency", "c", 2, "Number of requests in flight")
	flags.Float64P("delay", "r", 0.5, "Delay between requests to one host in seconds")
	flags.DurationP("timeout", "t", 30*time.Second, "HTTP request timeout")
	flags.StringP("user-agent", "u", defaultUserAgent, "HTTP User-Agent header")
	flags.StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")
	flags.Bool("fail-on-status", false, "Report 4xx/5xx responses as transport errors")
	flags.Bool("respect-robots", true, "Respect robots.txt rules")
	flags.String("auth-username", "", "Username for basic authentication")
	flags.String("auth-password", "", "Password for basic authentication")

	// Limits
	flags.Int("max-depth", 0, "Maximum link distance from a base URI (0=unlimited)")
	flags.IntP("limit", "l", 0, "Stop after N requests, the job stays resumable (0=unlimited)")
	flags.Int64("max-body-size", 10*1024*1024, "Maximum bytes buffered per response (0=unlimited)")

	// Storage
	flags.String("queue-driver", config.DriverSQLite, "Queue backend: sqlite, postgres or memory")
	flags.StringP("database", "d", "./sitecrawler.db", "Path to SQLite database file")
	flags.String("dsn", "", "PostgreSQL connection string")

	// Observability
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log format: json or text")
	flags.String("log-file", "", "Also write logs to this file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(newCrawlCmd(), newResumeCmd(), newSubscribersCmd())
	return root
}

// viper keys and the flags bound to them
var flagBindings = []struct {
	viperKey string
	flagName string
}{
	{"subscribers", "subscribers"},
	{"additional_uris", "additional-uri"},
	{"concurrency", "concurrency"},
	{"request_delay", "delay"},
	{"request_timeout", "timeout"},
	{"user_agent", "user-agent"},
	{"headers", "header"},
	{"fail_on_status", "fail-on-status"},
	{"respect_robots", "respect-robots"},
	{"auth.basic.username", "auth-username"},
	{"auth.basic.password", "auth-password"},
	{"max_depth", "max-depth"},
	{"limit", "limit"},
	{"max_body_size", "max-body-size"},
	{"queue.driver", "queue-driver"},
	{"queue.database_path", "database"},
	{"queue.dsn", "dsn"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
	{"log.file", "log-file"},
	{"metrics_addr", "metrics-addr"},
}

func bindFlags(flags *pflag.FlagSet) error {
	for _, bind := range flagBindings {
		if err := viper.BindPFlag(bind.viperKey, flags.Lookup(bind.flagName)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", bind.flagName, err)
		}
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the CLI with ctx; cancelling ctx stops a running crawl gracefully
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// initConfig reads in config file and ENV variables if set.
func initConfig(stderr io.Writer) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("sitecrawler")
	}

	viper.SetEnvPrefix("SC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("sitecrawler/%s", version)
	}
	return "sitecrawler/dev"
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultUserAgent {
		cfg.UserAgent = generateUserAgent()
	}
	return cfg, nil
}

func showCurrentConfig(out io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "# Warning: configuration validation failed: %v\n", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(out, "# Current sitecrawler configuration\n")
	fmt.Fprintf(out, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(out, "# Configuration file search paths: ./sitecrawler.yml\n")
	fmt.Fprintf(out, "# Environment variables prefix: SC_\n\n")

	fmt.Fprint(out, string(yamlData))

	fmt.Fprintf(out, "\n# Configuration source priority:\n")
	fmt.Fprintf(out, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(out, "# 2. Environment variables (SC_ prefix)\n")
	fmt.Fprintf(out, "# 3. Configuration file (sitecrawler.yml)\n")
	fmt.Fprintf(out, "# 4. Default values (lowest priority)\n")

	return nil
}

// ExitCode maps an error returned by Execute to a process exit code and
// reports it on stderr. A failed crawl result exits with 2 without a message.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrResultNotOK):
		return 2
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/pfrun/pkg/api"
	"github.com/psantana5/pfrun/pkg/logging"
	"github.com/psantana5/pfrun/pkg/metrics"
	"github.com/psantana5/pfrun/pkg/shutdown"
	pftls "github.com/psantana5/pfrun/pkg/tls"
	"github.com/psantana5/pfrun/pkg/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pfrun",
	Short: "CLI for the PartitionFinder job service",
	Long: `pfrun submits PartitionFinder analyses to the job service, follows them
while they run and explores their results.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pfrun/config.yaml)")
	flags.String("server", api.DefaultBaseURL, "job service base URL")
	flags.String("api-key", "", "bearer token for the job service")
	flags.StringVar(&outputFormat, "output", "table", "output format: table or json")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "write logs as JSON lines")
	flags.Duration("poll-interval", time.Second, "status poll interval while monitoring")
	flags.Int("eta-history", 50, "number of recent jobs used for the runtime estimate")
	flags.Duration("timeout", api.DefaultTimeout, "HTTP request timeout")
	flags.String("ca-file", "", "CA certificate used to verify the server")
	flags.String("cert-file", "", "client certificate for mutual TLS")
	flags.String("key-file", "", "client key for mutual TLS")
	flags.String("otlp-endpoint", "", "OTLP HTTP collector (host:port); tracing is off when empty")
	flags.Bool("otlp-insecure", true, "use plain HTTP for the OTLP collector")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")

	for key, flag := range map[string]string{
		"server_url":    "server",
		"api_key":       "api-key",
		"log_level":     "log-level",
		"log_json":      "log-json",
		"poll_interval": "poll-interval",
		"eta_history":   "eta-history",
		"timeout":       "timeout",
		"ca_file":       "ca-file",
		"cert_file":     "cert-file",
		"key_file":      "key-file",
		"otlp_endpoint": "otlp-endpoint",
		"otlp_insecure": "otlp-insecure",
		"metrics_addr":  "metrics-addr",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pfrun/config" (without extension)
		viper.AddConfigPath(filepath.Join(home, ".pfrun"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("pfrun")
	viper.AutomaticEnv()

	// Bind specific environment variables
	viper.BindEnv("api_key", "PFRUN_API_KEY")
	viper.BindEnv("server_url", "PFRUN_SERVER_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(viper.GetString("server_url"), "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

// app is what every command that talks to the service needs
type app struct {
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Provider
	client   *api.Client
	shutdown *shutdown.Manager
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(viper.GetString("log_level")), viper.GetBool("log_json"))
}

// setup builds the logger, metrics, tracer and API client from the merged
// flag, env and file configuration. Callers must call close.
func setup() (*app, error) {
	logger := newLogger()
	rt := &app{
		logger:   logger,
		metrics:  metrics.New(),
		shutdown: shutdown.New(5*time.Second, logger),
	}

	endpoint := viper.GetString("otlp_endpoint")
	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "pfrun",
		ServiceVersion: Version,
		OTLPEndpoint:   endpoint,
		Insecure:       viper.GetBool("otlp_insecure"),
		Enabled:        endpoint != "",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.tracer = tracer
	rt.shutdown.Register("tracer", tracer.Shutdown)

	opts := []api.Option{
		api.WithAPIKey(viper.GetString("api_key")),
		api.WithTimeout(viper.GetDuration("timeout")),
		api.WithTracer(tracer),
		api.WithMetrics(rt.metrics),
		api.WithLogger(logger),
	}
	tlsCfg := pftls.ClientConfig{
		CertFile: viper.GetString("cert_file"),
		KeyFile:  viper.GetString("key_file"),
		CAFile:   viper.GetString("ca_file"),
	}
	if tlsCfg.Enabled() {
		tc, err := tlsCfg.Load()
		if err != nil {
			rt.close()
			return nil, err
		}
		opts = append(opts, api.WithTLSConfig(tc))
	}

	client, err := api.NewClient(GetServerURL(), opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.client = client

	if addr := viper.GetString("metrics_addr"); addr != "" {
		if err := rt.serveMetrics(addr); err != nil {
			rt.close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			rt.logger.Error("Metrics server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	rt.logger.Info("Serving metrics", map[string]interface{}{"addr": ln.Addr().String()})
	rt.shutdown.Register("metrics server", shutdown.StopHTTPServer(srv))
	return nil
}

func (rt *app) close() {
	if err := rt.shutdown.Shutdown(); err != nil {
		rt.logger.Warn("Shutdown finished with errors", map[string]interface{}{"error": err.Error()})
	}
}

// requestContext is the context for a one-shot command
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout")+5*time.Second)
}

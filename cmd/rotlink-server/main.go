// Rotlink-server runs the rotlink server: the encrypted session protocol
// and its HTTP application on one TCP port.
//
// Usage:
//
//	rotlink-server server [flags]
//
// See 'rotlink-server server --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/server"
	"github.com/muurk/rotlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rotlink-server",
	Short: "rotlink server",
	Long: `The rotlink server accepts encrypted client sessions and serves an HTTP
application on the same port.

Connections are routed by their first bytes: HTTP methods go to the web
application, everything else speaks the session protocol. Configuration is
read from a YAML file, then a .env file, then the environment.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

// Server command and flags
var (
	configPath string
	envFile    string
	host       string
	port       int
	logLevel   string
	framing    string
	certPath   string
	keyPath    string
	storePath  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the server",
	Long: `Start the rotlink server.

Flags override the configuration file and environment. TLS is enabled when
--tls-cert and --tls-key are given, or when tls.enabled is set in the
configuration.`,
	Example: `  # Start with the default configuration file and .env
  rotlink-server server

  # Listen on a custom port with debug logging
  rotlink-server server --port 9000 --log-level debug

  # Serve TLS with your own certificate
  rotlink-server server --tls-cert fullchain.pem --tls-key privkey.pem

  # Persist session events
  rotlink-server server --store ./events.db`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to the YAML configuration file (default: "+defaultConfigPath()+")")
	f.StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	f.StringVar(&host, "host", "", "Listen host (overrides config)")
	f.IntVar(&port, "port", 0, "Listen port (overrides config)")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&framing, "framing", "", "Packet framing (raw, length)")
	f.StringVar(&certPath, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&keyPath, "tls-key", "", "Path to TLS private key file")
	f.StringVar(&storePath, "store", "", "Path to the SQLite event store")
}

func defaultConfigPath() string {
	path, err := config.GetConfigPath()
	if err != nil {
		return "none"
	}
	return path
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("framing") {
		cfg.Framing = framing
	}
	if flags.Changed("tls-cert") || flags.Changed("tls-key") {
		cfg.TLS.Enabled = true
		cfg.TLS.Cert, cfg.TLS.Key = certPath, keyPath
	}
	if flags.Changed("store") {
		cfg.Store.Path = storePath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()

	if certPath != "" {
		if _, err := os.Stat(certPath); os.IsNotExist(err) {
			return fmt.Errorf("certificate file not found: %s", certPath)
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logging.Info("Starting rotlink server",
		zap.String("addr", cfg.ListenAddr()),
		zap.String("framing", cfg.Framing),
		zap.Bool("tls", cfg.TLS.Enabled),
		zap.Int("logins", len(cfg.Logins)),
		zap.String("version", version.Full()),
	)
	return srv.Start()
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rotlink-server %s (commit: %s)\n", version.Version, version.Commit)
	},
}

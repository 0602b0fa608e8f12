package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/rotlink/internal/collector"
	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/discovery"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/session"
	"github.com/muurk/rotlink/internal/ui"
)

// Connection flags shared by every command that dials a server.
var (
	configPath string
	envFile    string
	host       string
	port       int
	username   string
	password   string
	framing    string
	useTLS     bool
	insecure   bool
	logLevel   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	pf.StringVar(&host, "host", "", "Server host (overrides config)")
	pf.IntVar(&port, "port", 0, "Server port (overrides config)")
	pf.StringVarP(&username, "user", "u", "", "Username (default: first configured login)")
	pf.StringVarP(&password, "password", "p", "", "Password (prompted when empty)")
	pf.StringVar(&framing, "framing", "", "Packet framing (raw, length)")
	pf.BoolVar(&useTLS, "tls", false, "Connect with TLS")
	pf.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(discoverCmd)

	sendCmd.Flags().StringVarP(&message, "message", "m", "", "Message text to send")
	sendCmd.Flags().StringVar(&rawData, "data", "", "Send this payload as a DATA packet instead")

	reportCmd.Flags().BoolVar(&reportOnce, "once", false, "Send a single report and exit")
	reportCmd.Flags().DurationVar(&reportInterval, "interval", 0, "Report interval (overrides config)")

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
}

// loadConfig resolves the configuration and applies the connection flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("framing") {
		cfg.Framing = framing
	}
	if flags.Changed("tls") {
		cfg.TLS.Enabled = useTLS
	}
	if flags.Changed("insecure") {
		cfg.TLS.Insecure = insecure
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// credentials picks the login to use and prompts for a missing password.
func credentials(cfg *config.Config) (string, string, error) {
	user, pass := username, password
	if user == "" {
		if len(cfg.Logins) == 0 {
			return "", "", errors.New("no username given and no logins configured")
		}
		user = cfg.Logins[0].Username
	}
	if pass == "" {
		for _, l := range cfg.Logins {
			if l.Username == user {
				pass = l.Password
				break
			}
		}
	}
	if pass == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return "", "", fmt.Errorf("no password for %s and stdin is not a terminal", user)
		}
		fmt.Fprintf(os.Stderr, "Password for %s: ", user)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		pass = string(b)
	}
	return user, pass, nil
}

func clientTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}
	serverName, _, err := net.SplitHostPort(cfg.DialAddr())
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLS.Insecure,
	}
	// A configured certificate is trusted as the server's own.
	if cfg.TLS.Cert != "" {
		pemData, err := os.ReadFile(cfg.TLS.Cert)
		if err != nil {
			return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.Cert)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// connect dials the configured server and authenticates.
func connect(ctx context.Context, cfg *config.Config, onEvent session.Listener) (*session.ClientSession, string, error) {
	keys, err := cfg.KeySet()
	if err != nil {
		return nil, "", err
	}
	framer, err := cfg.Framer()
	if err != nil {
		return nil, "", err
	}
	tlsConfig, err := clientTLSConfig(cfg)
	if err != nil {
		return nil, "", err
	}
	user, pass, err := credentials(cfg)
	if err != nil {
		return nil, "", err
	}

	addr := cfg.DialAddr()
	client, ok, err := session.Dial(ctx, &session.ClientConfig{
		Addr:             addr,
		Username:         user,
		Password:         pass,
		Keys:             keys,
		Framer:           framer,
		DialTimeout:      cfg.Timeouts.Dial,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		WriteTimeout:     cfg.Timeouts.Write,
		TLSConfig:        tlsConfig,
		OnEvent:          onEvent,
	})
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("server %s rejected the login for %s", addr, user)
	}
	logging.Info("Connected", zap.String("addr", addr), zap.String("username", user))
	return client, user, nil
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, user, err := connect(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		tlsMode := "off"
		if cfg.TLS.Enabled {
			tlsMode = "on"
		}
		return ui.RunChat(client, ui.ChatConfig{
			Username: user,
			Server:   cfg.DialAddr(),
			Params:   map[string]string{"Framing": cfg.Framing, "TLS": tlsMode},
		})
	},
}

var (
	message string
	rawData string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message and disconnect",
	Example: `  rotlink-client send --message "hello"
  rotlink-client send --data '{"temperature": 21.5}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (message == "") == (rawData == "") {
			return errors.New("exactly one of --message or --data is required")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, user, err := connect(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		p := ui.NewPrinter(nil)
		if message != "" {
			err = client.SendMessage(message)
		} else {
			err = client.SendRawData(rawData)
		}
		if err != nil {
			p.Failure("Send failed: %v", err)
			return err
		}
		p.Success("Sent as %s to %s", user, cfg.DialAddr())
		return nil
	},
}

var (
	reportOnce     bool
	reportInterval time.Duration
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send system reports as DATA packets",
	Long: `Connect and send a system report every report interval until
interrupted or terminated by the server. The sections included are chosen
by data_flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if reportInterval > 0 {
			cfg.ReportInterval = reportInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, _, err := connect(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		return runReports(ctx, client, cfg, ui.NewPrinter(nil))
	},
}

func runReports(ctx context.Context, client *session.ClientSession, cfg *config.Config, p *ui.Printer) error {
	send := func() error {
		if err := client.SendData(collector.Collect(cfg.DataFlags)); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
		p.Success("Report sent at %s", time.Now().Format(time.TimeOnly))
		return nil
	}

	if err := send(); err != nil || reportOnce {
		return err
	}
	if cfg.ReportInterval <= 0 {
		return errors.New("report_interval must be positive")
	}

	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			if reason := client.TerminateReason(); reason != "" {
				return fmt.Errorf("terminated by server: %s", reason)
			}
			return errors.New("connection closed by server")
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find rotlink servers on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flags := cmd.Flags(); flags.Changed("log-level") {
			if err := logging.Initialize(logLevel); err != nil {
				return err
			}
		}
		p := ui.NewPrinter(nil)
		p.Notice("Browsing for %s for %s...", discovery.ServiceType, discoverTimeout)

		scanner := discovery.NewScanner()
		scanner.Timeout = discoverTimeout
		servers, err := scanner.Browse(cmd.Context())
		if err != nil {
			return err
		}
		p.Servers(servers)
		return nil
	},
}

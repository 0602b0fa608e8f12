package config

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/rotlink/internal/protocol"
	"github.com/muurk/rotlink/internal/rotcipher"
	"gopkg.in/yaml.v3"
)

// ReservedUsername holds the server's own collected data and cannot log in.
const ReservedUsername = "root"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete rotlink configuration shared by server and client.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Logins         []Login       `yaml:"logins"`
	Keys           Keys          `yaml:"keys"`
	Framing        string        `yaml:"framing"`
	DataFlags      []string      `yaml:"data_flags"`
	ReportInterval time.Duration `yaml:"report_interval"`
	Timeouts       Timeouts      `yaml:"timeouts"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	Website        Website       `yaml:"website"`
	TLS            TLS           `yaml:"tls"`
	Store          Store         `yaml:"store"`
	MDNS           MDNS          `yaml:"mdns"`
	LogLevel       string        `yaml:"log_level"`
}

// Login is one username/password pair.
type Login struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Keys provisions the rotating cipher. Seeds are decimal strings because
// they may exceed 64 bits.
type Keys struct {
	PrimeX       int    `yaml:"prime_x"`
	PrimeY       int    `yaml:"prime_y"`
	InboundSeed  string `yaml:"inbound_seed"`
	OutboundSeed string `yaml:"outbound_seed"`
}

type Timeouts struct {
	Dial      time.Duration `yaml:"dial"`
	Handshake time.Duration `yaml:"handshake"`
	Peek      time.Duration `yaml:"peek"`
	Write     time.Duration `yaml:"write"`
	Idle      time.Duration `yaml:"idle"`
}

type RateLimit struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
	Enabled           bool    `yaml:"enabled"`
}

// Website controls the HTTP side of the shared port.
type Website struct {
	// Enabled serves static files from PublicDir.
	Enabled   bool   `yaml:"enabled"`
	PublicDir string `yaml:"public_dir"`
	// Port, when set and different from the main port, also serves the
	// HTTP application on its own listener.
	Port int `yaml:"port"`
	// AccessPassword guards the /api endpoints. Empty disables them.
	AccessPassword string `yaml:"access_password"`
}

// TLS enables the TLS front. When RedirectAddr and TLSAddr are set the
// front relays to those internal listeners instead of handling in-process.
type TLS struct {
	Enabled      bool   `yaml:"enabled"`
	Cert         string `yaml:"cert"`
	Key          string `yaml:"key"`
	GenerateCert bool   `yaml:"generate_cert"`
	RedirectAddr string `yaml:"redirect_addr"`
	TLSAddr      string `yaml:"tls_addr"`
	// Insecure skips certificate verification on the client.
	Insecure bool `yaml:"insecure"`
}

type Store struct {
	Path string `yaml:"path"`
}

type MDNS struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           9900,
		Framing:        protocol.FramingRaw,
		DataFlags:      []string{"system"},
		ReportInterval: time.Minute,
		Timeouts: Timeouts{
			Dial:      10 * time.Second,
			Handshake: 10 * time.Second,
			Peek:      10 * time.Second,
			Write:     10 * time.Second,
		},
		RateLimit: RateLimit{
			MessagesPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Website: Website{
			PublicDir: "./public",
		},
		MDNS: MDNS{
			Instance: "rotlink",
		},
	}
}

// Load reads path over the defaults. An empty path uses the default config
// file when it exists and the defaults alone otherwise. Environment
// overrides are applied afterwards. Load does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p, err := GetConfigPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables resolved by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT %q is not a number", ErrInvalid, v)
		}
		c.Port = port
	}
	if v, ok := lookup("LOGINS"); ok && v != "" {
		logins, err := ParseLogins(v)
		if err != nil {
			return err
		}
		c.Logins = logins
	}
	if v, ok := lookup("PRIMEN_X"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PRIMEN_X %q is not a number", ErrInvalid, v)
		}
		c.Keys.PrimeX = n
	}
	if v, ok := lookup("PRIMEN_Y"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PRIMEN_Y %q is not a number", ErrInvalid, v)
		}
		c.Keys.PrimeY = n
	}
	if v, ok := lookup("INBOUND_SEED"); ok && v != "" {
		c.Keys.InboundSeed = v
	}
	if v, ok := lookup("OUTBOUND_SEED"); ok && v != "" {
		c.Keys.OutboundSeed = v
	}
	if v, ok := lookup("DATA_FLAGS"); ok && v != "" {
		c.DataFlags = splitList(v)
	}
	if v, ok := lookup("RUN_WEBSITE"); ok && v != "" {
		c.Website.Enabled = v == "true"
	}
	if v, ok := lookup("WEBSITE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: WEBSITE_PORT %q is not a number", ErrInvalid, v)
		}
		c.Website.Port = port
	}
	if v, ok := lookup("WEBSITE_ACCESS_PASSWORD"); ok && v != "" {
		c.Website.AccessPassword = v
	}
	return nil
}

// ParseLogins parses "user|pass,user|pass".
func ParseLogins(s string) ([]Login, error) {
	var logins []Login
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(entry, "|")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: login %q must be user|password", ErrInvalid, entry)
		}
		logins = append(logins, Login{Username: parts[0], Password: parts[1]})
	}
	return logins, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings the server needs.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if err := c.validateLogins(); err != nil {
		return err
	}
	if _, err := c.KeySet(); err != nil {
		return err
	}
	if _, err := protocol.NewFramer(c.Framing); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("%w: tls cert and key must be set together", ErrInvalid)
	}
	if c.TLS.Enabled && c.TLS.Cert == "" && !c.TLS.GenerateCert {
		return fmt.Errorf("%w: tls enabled without cert/key or generate_cert", ErrInvalid)
	}
	if (c.TLS.RedirectAddr == "") != (c.TLS.TLSAddr == "") {
		return fmt.Errorf("%w: tls redirect_addr and tls_addr must be set together", ErrInvalid)
	}
	if c.RateLimit.Enabled && c.RateLimit.MessagesPerSecond <= 0 {
		return fmt.Errorf("%w: rate_limit.messages_per_second must be positive", ErrInvalid)
	}
	if c.Website.Port < 0 || c.Website.Port > 65535 {
		return fmt.Errorf("%w: website port %d out of range", ErrInvalid, c.Website.Port)
	}
	return nil
}

func (c *Config) validateLogins() error {
	seen := make(map[string]bool, len(c.Logins))
	for i, l := range c.Logins {
		if l.Username == "" || l.Password == "" {
			return fmt.Errorf("%w: login %d needs both username and password", ErrInvalid, i)
		}
		if l.Username == ReservedUsername {
			return fmt.Errorf("%w: cannot use %s as a username; reserved for system use", ErrInvalid, ReservedUsername)
		}
		if seen[l.Username] {
			return fmt.Errorf("%w: duplicate login %q", ErrInvalid, l.Username)
		}
		seen[l.Username] = true
	}
	return nil
}

// KeySet derives the cipher keys from Keys.
func (c *Config) KeySet() (rotcipher.KeySet, error) {
	in, err := parseSeed("inbound_seed", c.Keys.InboundSeed)
	if err != nil {
		return rotcipher.KeySet{}, err
	}
	out, err := parseSeed("outbound_seed", c.Keys.OutboundSeed)
	if err != nil {
		return rotcipher.KeySet{}, err
	}
	ks, err := rotcipher.DeriveKeySet(c.Keys.PrimeX, c.Keys.PrimeY, in, out)
	if err != nil {
		return rotcipher.KeySet{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return ks, nil
}

func parseSeed(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: keys.%s is required", ErrInvalid, name)
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: keys.%s %q is not a decimal integer", ErrInvalid, name, s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: keys.%s must not be negative", ErrInvalid, name)
	}
	return n, nil
}

// Framer returns the configured framing.
func (c *Config) Framer() (protocol.Framer, error) {
	return protocol.NewFramer(c.Framing)
}

// Credentials returns the logins as a username to password map.
func (c *Config) Credentials() map[string]string {
	out := make(map[string]string, len(c.Logins))
	for _, l := range c.Logins {
		out[l.Username] = l.Password
	}
	return out
}

// ListenAddr is the server's bind address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialAddr is the address a client connects to. Wildcard hosts dial loopback.
func (c *Config) DialAddr() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// HasFlag reports whether flag is listed in DataFlags.
func (c *Config) HasFlag(flag string) bool {
	for _, f := range c.DataFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Package config loads rotlink configuration.
//
// Settings come from three layers, later layers winning:
//
//  1. Built-in defaults (Default).
//  2. A YAML file, by default config.yaml in the user config directory:
//     - Linux: $XDG_CONFIG_HOME/rotlink or $HOME/.config/rotlink
//     - macOS: $HOME/.config/rotlink
//     - Windows: %LOCALAPPDATA%\rotlink
//  3. Environment variables (HOST, PORT, LOGINS, PRIMEN_X, PRIMEN_Y,
//     INBOUND_SEED, OUTBOUND_SEED, DATA_FLAGS, RUN_WEBSITE, WEBSITE_PORT,
//     WEBSITE_ACCESS_PASSWORD), optionally seeded from a .env file.
//
// Command-line flags are applied on top by the commands themselves.
//
// # Example
//
//	host: 0.0.0.0
//	port: 9900
//	logins:
//	  - username: bob
//	    password: secret
//	keys:
//	  prime_x: 12
//	  prime_y: 40
//	  inbound_seed: "918273645"
//	  outbound_seed: "192837465"
//	framing: raw
//	website:
//	  enabled: true
//	  public_dir: ./public
//	  access_password: letmein
package config

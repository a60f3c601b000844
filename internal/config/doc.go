// Package config handles configuration loading for outpost-controller and
// outpost-agent.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The format is chosen by extension: ".toml" decodes as TOML,
// anything else as YAML. Every field has a default, so running without a
// file is valid.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from OUTPOST_CONFIG environment variable
//  3. ~/.config/outpost/controller.yaml or ~/.config/outpost/agent.yaml
//     (honoring XDG_CONFIG_HOME), used only when the file exists
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	controller:
//	  address: "${OUTPOST_CONTROLLER}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string, which
// then falls back to the default.
//
// # Durations and Sizes
//
// Duration values use Go's time.ParseDuration syntax ("30s", "5m").
// Sizes accept human units through go-humanize ("128 MiB", "64MB").
//
// # Controller
//
//	server:
//	  listen_addr: "0.0.0.0:4444"     # agents connect here
//	  http_addr: "127.0.0.1:8080"     # console API; "off" disables it
//	  handshake_timeout: "30s"        # time allowed for the descriptor frame
//	  max_frame_size: "128 MiB"
//
//	sessions:
//	  exclusion: "session"            # or "global": one command in flight overall
//	  on_collision: "replace"         # or "reject": keep the first connection
//	  call_timeout: "5m"              # bound on one command round trip
//
//	logging:
//	  level: "info"                   # debug, info, warn, error
//	  format: "text"                  # text or json
//
// # Agent
//
//	[controller]
//	address = "10.0.0.5:4444"
//	dial_timeout = "10s"
//	max_frame_size = "128 MiB"
//
//	[reconnect]
//	initial_delay = "5s"
//	max_delay = "60s"
//	multiplier = 1.5
//
//	[exec]
//	timeout = "15s"
//	max_download_size = "96 MiB"
//
//	[logging]
//	level = "info"
//	format = "json"
package config

// Package config handles configuration loading for coven-helpdesk.
//
// # Overview
//
// Configuration is read from a YAML file, or a TOML file when the path ends
// in .toml. Loading happens in three layers:
//
//  1. A .env file in the config's directory, if present, is loaded into the
//     environment without replacing variables that are already set.
//  2. ${VAR_NAME} references in the file are expanded from the environment.
//  3. HELPDESK_<SECTION>_<FIELD> variables override single fields, for
//     example HELPDESK_ZD_WEBHOOK_SECRET or HELPDESK_BRIDGE_ADMINS (comma
//     separated).
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"       # webhook listener
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-helpdesk"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: true                    # public HTTPS so the senders can reach us
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@helpdesk:example.org"
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//	  encryption: false
//	  data_dir: "./data"
//
//	sunshine:
//	  endpoint: "https://api.smooch.io/v2/apps/{appId}"
//	  app_id: "..."
//	  key_id: "..."
//	  key_secret: "${SUNSHINE_KEY_SECRET}"
//	  webhook_secret: "${SUNSHINE_WEBHOOK_SECRET}"
//	  timeout: "30s"
//
//	zendesk:
//	  webhook_secret: "${ZENDESK_WEBHOOK_SECRET}"
//
//	bridge:
//	  deletion_delay: "60s"
//	  admins: ["@ops:example.org"]
//	  notify_webhook: ""
//	  space: "!space:example.org"
//	  command_prefix: "!"
//	  auto_join_from: ["@ops:example.org"]
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax. Validate reports the first missing
// or invalid field.
package config

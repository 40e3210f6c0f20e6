// Package config loads the relay's YAML configuration.
//
// The serve command looks for the file at $DMRELAY_CONFIG first, then
// $XDG_CONFIG_HOME/dm-relay/relay.yaml, then ~/.config/dm-relay/relay.yaml.
// Any ${NAME} reference in the file is replaced with that environment
// variable before parsing; unset names become "".
//
// A minimal file:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origins: ["https://chat.example.com"]
//	database:
//	  path: "/var/lib/dm-relay/relay.db"
//	auth:
//	  jwt_secret: "${DMRELAY_JWT_SECRET}"
//
// Optional sections and their defaults:
//
//	sessions:
//	  ping_interval: "18s"
//	  pong_wait: "20s"          # must exceed ping_interval
//	  write_wait: "10s"
//	  send_buffer: 256
//	  max_message_bytes: 65536
//	dedupe:
//	  ttl: "10m"
//	  max_entries: 10000
//	logging:
//	  level: "info"             # debug | info | warn | error
//	  format: "text"            # text is colorized; json for log shippers
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax. Load rejects a file missing
// http_addr, database.path or auth.jwt_secret.
package config

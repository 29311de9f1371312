// Package config handles configuration loading for zenbridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Duration values are parsed into time.Duration; missing values stay zero and
// each consumer applies its own defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ZENBRIDGE_CONFIG environment variable
//  2. ~/.config/zenbridge/zenbridge.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ZENBRIDGE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bridge:
//	  initialization_timeout: "30s"
//	  health_check_interval: "30s"
//	  recovery_base_delay: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and websocket clients
//
// Database:
//
//	database:
//	  path: "/var/lib/zenbridge/zenbridge.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${ZENBRIDGE_JWT_SECRET}"  # empty = anonymous mode
//
// Integration lifecycle:
//
//	bridge:
//	  initialization_timeout: "30s"
//	  verification_timeout: "5s"
//	  health_check_interval: "30s"
//	  recovery_max_attempts: 3
//	  recovery_base_delay: "1s"
//	  recovery_max_delay: "30s"
//
// Websocket delivery:
//
//	transport:
//	  send_timeout: "5s"
//	  buffer_size: 64
//	  allowed_origins:
//	    - "app.example.com"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/zenbridge/zenbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// Package config provides centralized configuration management for the
// stardust service.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern STARDUST_<SECTION>_<FIELD>:
//
//	STARDUST_SERVER_PORT=1996
//	STARDUST_STORE_BACKEND=pebble
//	STARDUST_STORE_PEBBLE_DIR=/var/lib/stardust
//	STARDUST_SECURITY_ADMIN_IPV4=10.0.0.7
//	STARDUST_QUEUE_MAX_ACTIVE=5
//
// STARDUST_CONFIG points at an explicit YAML file; otherwise config.yaml and
// configs/config.yaml are probed.
package config

// Package config loads the admin panel configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file named by COLLEGE_CONFIG_FILE, then COLLEGE_* environment variables.
//
//	COLLEGE_DB_DRIVER="postgres"          # postgres or sqlite3
//	COLLEGE_DB_URL="postgres://localhost/college?sslmode=disable"
//	COLLEGE_REDIS_URL="redis://localhost:6379/0"
//	COLLEGE_LOCKOUT_THRESHOLD="5"
//	COLLEGE_LOCKOUT_DURATION="15m"
//	COLLEGE_BCRYPT_COST="12"
//	COLLEGE_SESSION_LIFETIME="1h"
//	COLLEGE_RESET_TOKEN_TTL="1h"
//
// A YAML file uses the same structure:
//
//	auth:
//	  lockout_threshold: 5
//	  lockout_duration: 15m
//	session:
//	  lifetime: 1h
//
// Validate rejects a bcrypt cost below 12 and other inconsistent settings.
package config

// Package config loads the panel configuration.
//
// # Sources
//
// Values are layered: built-in defaults, then an optional YAML file (the
// -config flag or GDADMIN_CONFIG), then GDADMIN_* environment variables.
//
// Server settings:
//
//	GDADMIN_HOST="0.0.0.0"
//	GDADMIN_PORT="8080"
//	GDADMIN_METRICS_PORT="9090"
//	GDADMIN_TRUST_PROXY="false"
//
// Database settings (the database the bot writes):
//
//	GDADMIN_DB_DRIVER="sqlite3"  # sqlite3 or postgres
//	GDADMIN_DB_DSN="recruits.db?_busy_timeout=5000"
//
// Session settings:
//
//	GDADMIN_SESSION_BACKEND="file"  # file, redis or memory
//	GDADMIN_SESSION_DIR="sessions"
//	GDADMIN_REDIS_URL="redis://localhost:6379/0"
//	GDADMIN_SESSION_MAX_LIFETIME="2h"
//	GDADMIN_SESSION_GC_PROBABILITY="1"
//	GDADMIN_SESSION_GC_DIVISOR="100"
//
// Backups are copied to S3 when GDADMIN_S3_BUCKET is set.
//
// # YAML
//
//	server:
//	  port: "8080"
//	session:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
//	auth:
//	  admin_role: admin
package config

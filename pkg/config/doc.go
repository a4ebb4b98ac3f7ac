// Package config loads cmsroles configuration from the environment.
//
// Every variable is prefixed with CMSROLES_. A .env file in the working
// directory is loaded first when present, without overriding variables that
// are already set.
//
// Database:
//
//	CMSROLES_DB_DRIVER             postgres or sqlite3 (default postgres)
//	CMSROLES_DB_DSN                connection string (required)
//	CMSROLES_DB_MAX_OPEN_CONNS     pool size (default 20)
//	CMSROLES_DB_MAX_IDLE_CONNS     idle connections (default 2)
//	CMSROLES_DB_CONN_MAX_LIFETIME  connection lifetime (default 30m)
//	CMSROLES_DB_TIMEOUT            ping timeout (default 10s)
//
// SQLite DSNs get _foreign_keys=on appended unless they set it. A DSN that
// turns foreign keys off is rejected.
//
// Observability:
//
//	CMSROLES_LOG_LEVEL             debug, info, warn or error (default info)
//	CMSROLES_LOG_FORMAT            json or text (default json)
//	CMSROLES_METRICS_ENABLED       serve prometheus metrics (default false)
//	CMSROLES_METRICS_ADDR          metrics listen address (default :9090)
//
// Site administration:
//
//	CMSROLES_SITE_ADMIN_CAPABILITIES  comma separated marker capabilities
//	                                  (default cmsroles.user_setup)
//	CMSROLES_SITE_CACHE_SIZE          administered-sites cache entries (default 1024)
//	CMSROLES_ROLES_FILE               default file for load-roles
package config

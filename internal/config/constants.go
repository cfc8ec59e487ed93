package config

import "time"

// Application constants
const (
	AppName    = "license-server"
	AppVersion = "1.0.0"

	DefaultPort      = 3000
	DefaultStorePath = "license_db.json"
	DefaultLogFile   = "logs/license-server.log"
	DefaultKeyPrefix = "LIC"

	DefaultAuthorityTimeout = 10 * time.Second
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Authority kinds
const (
	AuthorityNone   = "none"
	AuthorityHTTP   = "http"
	AuthoritySheets = "sheets"
)

// HTTP headers
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderAdminSecret = "X-Admin-Secret"
)

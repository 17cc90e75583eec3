package config

import "errors"

var (
	// ErrMissingBaseURL indicates that api.base_url is not configured
	ErrMissingBaseURL = errors.New("api.base_url is required")

	// ErrInvalidBaseURL indicates that api.base_url is not an http(s) URL
	ErrInvalidBaseURL = errors.New("api.base_url must be an http or https URL")

	// ErrMissingStorePath indicates that store.path is empty
	ErrMissingStorePath = errors.New("store.path is required")

	// ErrInvalidPolicy indicates an unknown sync.policy
	ErrInvalidPolicy = errors.New("sync.policy must be drop-all or retry-server-errors")

	// ErrNegativeDuration indicates a delay or interval out of range
	ErrNegativeDuration = errors.New("sync delays must not be negative and connectivity.interval must be positive")

	// ErrInvalidOrigin indicates that cache.origin is not an http(s) URL
	ErrInvalidOrigin = errors.New("cache.origin must be an http or https URL")

	// ErrMissingCacheVersion indicates that cache.version is empty
	ErrMissingCacheVersion = errors.New("cache.version is required")

	// ErrConfigFileNotFound indicates that an explicitly named config file does not exist
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file is not valid TOML
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)

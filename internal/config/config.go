// Package config provides configuration loading and validation.
package config

// Config holds the server configuration.
type Config struct {
	// Mode is the effective operating mode: prod or dev.
	Mode string `json:"mode"`

	// ExternalOrigin is the public origin (scheme + host + port) for
	// this instance, used to build invitation and share URLs.
	// Example: "https://diary.example.org"
	ExternalOrigin string `json:"external_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":8400"
	ListenAddr string `json:"listen_addr"`

	// Server holds listener-level settings.
	Server ServerConfig `json:"server"`

	// TLS configuration.
	TLS TLSConfig `json:"tls"`

	// Store configuration.
	Store StoreConfig `json:"store"`

	// Cache configuration.
	Cache CacheConfig `json:"cache"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging"`

	// Invites holds invitation policy settings.
	Invites InvitesConfig `json:"invites"`

	// Sharing holds share link policy settings.
	Sharing SharingConfig `json:"sharing"`

	// Verification holds email verification settings.
	Verification VerificationConfig `json:"verification"`

	// Sessions holds login session settings.
	Sessions SessionsConfig `json:"sessions"`

	// Sweeper holds background expiry sweep settings.
	Sweeper SweeperConfig `json:"sweeper"`

	// RateLimit holds per-surface rate limit settings.
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// ServerConfig holds listener-level settings.
type ServerConfig struct {
	// TrustedProxies are CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `json:"trusted_proxies"`

	// MaxConns caps concurrent accepted connections (0 = unlimited).
	MaxConns int `json:"max_conns"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `json:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `json:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `json:"https_port"`

	// SelfSignedDir is where generated certs are stored
	SelfSignedDir string `json:"self_signed_dir"`

	// ACME settings for acme mode
	ACME ACMEConfig `json:"acme"`
}

// ACMEConfig holds ACME certificate settings.
type ACMEConfig struct {
	Email      string `json:"email"`
	Domain     string `json:"domain"`
	Directory  string `json:"directory"`
	StorageDir string `json:"storage_dir"`
	UseStaging bool   `json:"use_staging"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is one of: json, sqlite
	Driver string `json:"driver"`

	// DataDir is the directory for data files.
	DataDir string `json:"data_dir"`

	// Drivers holds driver-specific option maps keyed by driver name.
	Drivers map[string]any `json:"drivers"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name (memory).
	Driver string `json:"driver"`

	// Drivers holds driver-specific option maps keyed by driver name.
	Drivers map[string]any `json:"drivers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `json:"level"`

	// Format is one of: json, text
	Format string `json:"format"`
}

// InvitesConfig holds invitation policy settings.
type InvitesConfig struct {
	// DefaultTTLDays is the invitation lifetime when the creator does
	// not specify one.
	DefaultTTLDays int `json:"default_ttl_days"`

	// RequireVerifiedEmail gates invitation creation on the invitee
	// address having completed verification.
	RequireVerifiedEmail bool `json:"require_verified_email"`
}

// SharingConfig holds share link policy settings.
type SharingConfig struct {
	// DefaultTTLDays is the share link lifetime when the creator does
	// not specify one. 0 means links never expire by default.
	DefaultTTLDays int `json:"default_ttl_days"`

	// AllowMultipleLinks permits more than one active link per trip.
	AllowMultipleLinks bool `json:"allow_multiple_links"`
}

// VerificationConfig holds email verification settings.
type VerificationConfig struct {
	// TTLHours is the verification token lifetime.
	TTLHours int `json:"ttl_hours"`
}

// SessionsConfig holds login session settings.
type SessionsConfig struct {
	// TTLDays is the session lifetime.
	TTLDays int `json:"ttl_days"`
}

// SweeperConfig holds background expiry sweep settings.
type SweeperConfig struct {
	// IntervalSeconds between sweep passes (0 disables the sweeper).
	IntervalSeconds int `json:"interval_seconds"`

	// BatchSize caps how many expired invitations one pass transitions.
	BatchSize int `json:"batch_size"`
}

// RateLimitConfig holds per-surface rate limit settings.
type RateLimitConfig struct {
	// Login limits authentication attempts per client address.
	Login RateLimitRule `json:"login"`

	// Shared limits anonymous share-link lookups per client address.
	Shared RateLimitRule `json:"shared"`
}

// RateLimitRule is one rate limit bucket definition.
type RateLimitRule struct {
	RequestsPerWindow int64 `json:"requests_per_window"`
	WindowSeconds     int   `json:"window_seconds"`
}

// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	ExternalOrigin *string
	StoreDriver    *string
	DataDir        *string
	TLSMode        *string
	LogLevel       *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode string `toml:"mode"`

	ExternalOrigin string `toml:"external_origin"`
	ListenAddr     string `toml:"listen_addr"`

	Server       *serverConfig       `toml:"server"`
	TLS          *tlsConfig          `toml:"tls"`
	Store        *storeConfig        `toml:"store"`
	Cache        *cacheConfig        `toml:"cache"`
	Logging      *loggingConfig      `toml:"logging"`
	Invites      *invitesConfig      `toml:"invites"`
	Sharing      *sharingConfig      `toml:"sharing"`
	Verification *verificationConfig `toml:"verification"`
	Sessions     *sessionsConfig     `toml:"sessions"`
	Sweeper      *sweeperConfig      `toml:"sweeper"`
	RateLimit    *rateLimitConfig    `toml:"rate_limit"`
}

type serverConfig struct {
	TrustedProxies []string `toml:"trusted_proxies"`
	MaxConns       int      `toml:"max_conns"`
}

type tlsConfig struct {
	Mode          string     `toml:"mode"`
	CertFile      string     `toml:"cert_file"`
	KeyFile       string     `toml:"key_file"`
	HTTPPort      int        `toml:"http_port"`
	HTTPSPort     int        `toml:"https_port"`
	SelfSignedDir string     `toml:"self_signed_dir"`
	ACME          acmeConfig `toml:"acme"`
}

type acmeConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

type storeConfig struct {
	Driver  string         `toml:"driver"`
	DataDir string         `toml:"data_dir"`
	Drivers map[string]any `toml:"drivers"`
}

type cacheConfig struct {
	Driver  string         `toml:"driver"`
	Drivers map[string]any `toml:"drivers"`
}

type loggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type invitesConfig struct {
	DefaultTTLDays       int  `toml:"default_ttl_days"`
	RequireVerifiedEmail bool `toml:"require_verified_email"`
}

type sharingConfig struct {
	DefaultTTLDays     int  `toml:"default_ttl_days"`
	AllowMultipleLinks bool `toml:"allow_multiple_links"`
}

type verificationConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

type sessionsConfig struct {
	TTLDays int `toml:"ttl_days"`
}

type sweeperConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	BatchSize       int `toml:"batch_size"`
}

type rateLimitConfig struct {
	Login  *rateLimitRule `toml:"login"`
	Shared *rateLimitRule `toml:"shared"`
}

type rateLimitRule struct {
	RequestsPerWindow int64 `toml:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (prod)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate enum fields
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	// Step 1: Load TOML file if provided
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		// Warn about undecoded keys (do not fail)
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	// Step 2: Determine effective mode
	modeStr := "prod"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	// Step 3: Start from mode preset
	cfg := presetForMode(mode)

	// Step 4: Overlay TOML values
	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	// Step 5: Overlay CLI flags
	overlayFlags(cfg, opts.FlagOverrides)

	// Step 6: Validate enum fields (fatal on invalid values)
	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production-safe defaults.
func ProdConfig() *Config {
	return &Config{
		Mode:           string(ModeProd),
		ExternalOrigin: "https://localhost:8400",
		ListenAddr:     ":8400",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
			MaxConns:       0,
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      8480,
			HTTPSPort:     8400,
			SelfSignedDir: ".traveldiary/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".traveldiary/acme",
				UseStaging: false,
			},
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".traveldiary/data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Invites: InvitesConfig{
			DefaultTTLDays:       7,
			RequireVerifiedEmail: true,
		},
		Sharing: SharingConfig{
			DefaultTTLDays:     30,
			AllowMultipleLinks: false,
		},
		Verification: VerificationConfig{
			TTLHours: 24,
		},
		Sessions: SessionsConfig{
			TTLDays: 30,
		},
		Sweeper: SweeperConfig{
			IntervalSeconds: 300,
			BatchSize:       100,
		},
		RateLimit: RateLimitConfig{
			Login:  RateLimitRule{RequestsPerWindow: 10, WindowSeconds: 60},
			Shared: RateLimitRule{RequestsPerWindow: 60, WindowSeconds: 60},
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.ExternalOrigin = "http://localhost:8400"
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.Store.Driver = "json"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Invites.RequireVerifiedEmail = false
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ExternalOrigin != "" {
		cfg.ExternalOrigin = fc.ExternalOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Server != nil {
		if len(fc.Server.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
		if fc.Server.MaxConns != 0 {
			cfg.Server.MaxConns = fc.Server.MaxConns
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.HTTPPort != 0 {
			cfg.TLS.HTTPPort = fc.TLS.HTTPPort
		}
		if fc.TLS.HTTPSPort != 0 {
			cfg.TLS.HTTPSPort = fc.TLS.HTTPSPort
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		// UseStaging is a bool, overlay when TLS section is present
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if len(fc.Store.Drivers) > 0 {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			cfg.Logging.Format = fc.Logging.Format
		}
	}

	if fc.Invites != nil {
		if fc.Invites.DefaultTTLDays != 0 {
			cfg.Invites.DefaultTTLDays = fc.Invites.DefaultTTLDays
		}
		// RequireVerifiedEmail is a bool, overlay when section present
		cfg.Invites.RequireVerifiedEmail = fc.Invites.RequireVerifiedEmail
	}

	if fc.Sharing != nil {
		if fc.Sharing.DefaultTTLDays != 0 {
			cfg.Sharing.DefaultTTLDays = fc.Sharing.DefaultTTLDays
		}
		// AllowMultipleLinks is a bool, overlay when section present
		cfg.Sharing.AllowMultipleLinks = fc.Sharing.AllowMultipleLinks
	}

	if fc.Verification != nil && fc.Verification.TTLHours != 0 {
		cfg.Verification.TTLHours = fc.Verification.TTLHours
	}

	if fc.Sessions != nil && fc.Sessions.TTLDays != 0 {
		cfg.Sessions.TTLDays = fc.Sessions.TTLDays
	}

	if fc.Sweeper != nil {
		if fc.Sweeper.IntervalSeconds != 0 {
			cfg.Sweeper.IntervalSeconds = fc.Sweeper.IntervalSeconds
		}
		if fc.Sweeper.BatchSize != 0 {
			cfg.Sweeper.BatchSize = fc.Sweeper.BatchSize
		}
	}

	if fc.RateLimit != nil {
		if fc.RateLimit.Login != nil {
			overlayRule(&cfg.RateLimit.Login, fc.RateLimit.Login)
		}
		if fc.RateLimit.Shared != nil {
			overlayRule(&cfg.RateLimit.Shared, fc.RateLimit.Shared)
		}
	}
}

func overlayRule(dst *RateLimitRule, src *rateLimitRule) {
	if src.RequestsPerWindow != 0 {
		dst.RequestsPerWindow = src.RequestsPerWindow
	}
	if src.WindowSeconds != 0 {
		dst.WindowSeconds = src.WindowSeconds
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.ExternalOrigin != nil && *f.ExternalOrigin != "" {
		cfg.ExternalOrigin = *f.ExternalOrigin
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Store.DataDir = *f.DataDir
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.LogLevel != nil && *f.LogLevel != "" {
		cfg.Logging.Level = *f.LogLevel
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// mode is already validated by ParseMode before we get here

	// tls.mode
	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
		// valid
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned, acme", cfg.TLS.Mode)
	}

	// static mode needs both cert and key
	if cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.mode is static")
	}

	// acme mode needs email and domain
	if cfg.TLS.Mode == "acme" && (cfg.TLS.ACME.Email == "" || cfg.TLS.ACME.Domain == "") {
		return fmt.Errorf("tls.acme.email and tls.acme.domain are required when tls.mode is acme")
	}

	// store.driver
	switch cfg.Store.Driver {
	case "json", "sqlite":
		// valid
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of json, sqlite", cfg.Store.Driver)
	}

	// cache.driver (only memory is supported in this release)
	switch cfg.Cache.Driver {
	case "", "memory":
		// valid (empty defaults to memory)
	default:
		return fmt.Errorf("invalid cache.driver %q: only 'memory' is supported in this release", cfg.Cache.Driver)
	}

	// logging.level
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	// logging.format
	switch cfg.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("invalid logging.format %q: must be one of json, text", cfg.Logging.Format)
	}

	if cfg.Invites.DefaultTTLDays < 0 {
		return fmt.Errorf("invites.default_ttl_days must not be negative")
	}
	if cfg.Sharing.DefaultTTLDays < 0 {
		return fmt.Errorf("sharing.default_ttl_days must not be negative")
	}

	return nil
}

// StoreDriverOptions returns the option map for the configured store
// driver, or nil.
func (c *Config) StoreDriverOptions() map[string]any {
	if c.Store.Drivers == nil {
		return nil
	}
	opts, _ := c.Store.Drivers[c.Store.Driver].(map[string]any)
	return opts
}

// CacheDriverOptions returns the option map for the configured cache
// driver, or nil.
func (c *Config) CacheDriverOptions() map[string]any {
	if c.Cache.Drivers == nil {
		return nil
	}
	driver := c.Cache.Driver
	if driver == "" {
		driver = "memory"
	}
	opts, _ := c.Cache.Drivers[driver].(map[string]any)
	return opts
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. AUTHGW_DATABASE_URL.
const EnvPrefix = "AUTHGW"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). sqlite:// and file: URLs select SQLite.
	DatabaseURL string

	// Maximum database connection pool size
	MaxDBConnections int

	Server        ServerConfig
	Log           LogConfig
	OIDC          OIDCConfig
	Assertion     AssertionConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CORSOrigins lists browser origins allowed to call the gateway.
	CORSOrigins []string
	// BasicTokenPaths are path prefixes on which a Basic credential's
	// password is accepted as the bearer token.
	BasicTokenPaths []string
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
}

// OIDCConfig configures verification of tokens issued by the external identity provider.
// External verification is disabled when Issuer is empty.
type OIDCConfig struct {
	Issuer   string
	Audience string

	// DiscoveryURL overrides <issuer>/.well-known/openid-configuration.
	DiscoveryURL string

	// Key fetch HTTP client bounds.
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration

	// DefaultKeyTTL applies when the key endpoints send no cache headers.
	DefaultKeyTTL time.Duration

	Claims ClaimNames

	// TenantPrefix is stripped from tenant list entries.
	TenantPrefix string
}

// ClaimNames maps normalized principal fields to external token claims.
type ClaimNames struct {
	ClientID         string
	UserID           string
	ServiceAccountID string
	RequestedTenant  string
	Tenants          string
	Scopes           string
	OfficeID         string
	SessionID        string
}

// AssertionConfig configures the signed patient assertion consumed at login.
type AssertionConfig struct {
	Secret        string
	Issuer        string
	Audience      string
	IdentityClaim string
}

// CacheConfig sizes the authorization cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// ObservabilityConfig configures OpenTelemetry export.
type ObservabilityConfig struct {
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

// Enabled reports whether external token verification is configured.
func (c *OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

// Enabled reports whether patient assertion login is configured.
func (c *AssertionConfig) Enabled() bool {
	return c.Issuer != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "sqlite://authgw.db")
	v.SetDefault("database.max_connections", 25)

	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.basic_token_paths", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.audience", "")
	v.SetDefault("oidc.discovery_url", "")
	v.SetDefault("oidc.dial_timeout", 5*time.Second)
	v.SetDefault("oidc.tls_handshake_timeout", 5*time.Second)
	v.SetDefault("oidc.response_header_timeout", 5*time.Second)
	v.SetDefault("oidc.request_timeout", 10*time.Second)
	v.SetDefault("oidc.default_key_ttl", 5*time.Minute)
	v.SetDefault("oidc.tenant_prefix", "tenant:")
	v.SetDefault("oidc.claims.client_id", "client_id")
	v.SetDefault("oidc.claims.user_id", "user_id")
	v.SetDefault("oidc.claims.service_account_id", "service_account_id")
	v.SetDefault("oidc.claims.requested_tenant", "requested_tenant")
	v.SetDefault("oidc.claims.tenants", "tenants")
	v.SetDefault("oidc.claims.scopes", "scp")
	v.SetDefault("oidc.claims.office_id", "office_id")
	v.SetDefault("oidc.claims.session_id", "sid")

	v.SetDefault("assertion.secret", "")
	v.SetDefault("assertion.issuer", "")
	v.SetDefault("assertion.audience", "")
	v.SetDefault("assertion.identity_claim", "external_id")

	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "authgw")
}

// Load reads configuration from the global viper instance: defaults, then an
// optional config file read by the caller, then AUTHGW_ environment variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are read with explicit Get calls; AutomaticEnv does not
	// populate them through Unmarshal/AllSettings.
	cfg := &Config{
		DatabaseURL:      v.GetString("database.url"),
		MaxDBConnections: v.GetInt("database.max_connections"),
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
			BasicTokenPaths: v.GetStringSlice("server.basic_token_paths"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		OIDC: OIDCConfig{
			Issuer:                v.GetString("oidc.issuer"),
			Audience:              v.GetString("oidc.audience"),
			DiscoveryURL:          v.GetString("oidc.discovery_url"),
			DialTimeout:           v.GetDuration("oidc.dial_timeout"),
			TLSHandshakeTimeout:   v.GetDuration("oidc.tls_handshake_timeout"),
			ResponseHeaderTimeout: v.GetDuration("oidc.response_header_timeout"),
			RequestTimeout:        v.GetDuration("oidc.request_timeout"),
			DefaultKeyTTL:         v.GetDuration("oidc.default_key_ttl"),
			TenantPrefix:          v.GetString("oidc.tenant_prefix"),
			Claims: ClaimNames{
				ClientID:         v.GetString("oidc.claims.client_id"),
				UserID:           v.GetString("oidc.claims.user_id"),
				ServiceAccountID: v.GetString("oidc.claims.service_account_id"),
				RequestedTenant:  v.GetString("oidc.claims.requested_tenant"),
				Tenants:          v.GetString("oidc.claims.tenants"),
				Scopes:           v.GetString("oidc.claims.scopes"),
				OfficeID:         v.GetString("oidc.claims.office_id"),
				SessionID:        v.GetString("oidc.claims.session_id"),
			},
		},
		Assertion: AssertionConfig{
			Secret:        v.GetString("assertion.secret"),
			Issuer:        v.GetString("assertion.issuer"),
			Audience:      v.GetString("assertion.audience"),
			IdentityClaim: v.GetString("assertion.identity_claim"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
			TTL:  v.GetDuration("cache.ttl"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: v.GetString("observability.otlp_endpoint"),
			OTLPInsecure: v.GetBool("observability.otlp_insecure"),
			ServiceName:  v.GetString("observability.service_name"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if (c.OIDC.Issuer == "") != (c.OIDC.Audience == "") {
		return fmt.Errorf("oidc.issuer and oidc.audience must be set together")
	}
	if c.OIDC.Enabled() && c.OIDC.DefaultKeyTTL < 0 {
		return fmt.Errorf("oidc.default_key_ttl must not be negative")
	}
	if c.Assertion.Enabled() && c.Assertion.Secret == "" {
		return fmt.Errorf("assertion.secret is required when assertion.issuer is set")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	platformstrings "rpgateway/pkg/platform/strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, loaded from the environment.
type Config struct {
	Server   Server
	Provider Provider
	HTTP     HTTPClient
	Mapping  Mapping
	Frontend Frontend
	Session  Session
	Redis    RedisConfig
	Database Database
	Audit    Audit
	Log      Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string        `env:"ADDR" envDefault:":8080"`
	JWTSigningKey  string        `env:"JWT_SIGNING_KEY,required"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"rpgateway"`
	TokenTTL       time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"1h"`
	WebPrefix      string        `env:"OIDC_WEB_PREFIX" envDefault:"/auth"`
	APIPrefix      string        `env:"OIDC_API_PREFIX" envDefault:"/api/auth"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"90s"`
}

// Provider describes the external authorization server and this client's registration.
type Provider struct {
	Host         string   `env:"OIDC_AUTH_SERVER_HOST,required"`
	ClientID     string   `env:"OIDC_CLIENT_ID,required"`
	ClientSecret string   `env:"OIDC_CLIENT_SECRET,required"`
	RedirectURI  string   `env:"OIDC_REDIRECT_URI,required"`
	Scopes       []string `env:"OIDC_SCOPES" envDefault:"openid profile email" envSeparator:" "`

	AuthorizePath string `env:"OIDC_AUTHORIZE_PATH" envDefault:"/oauth/authorize"`
	TokenPath     string `env:"OIDC_TOKEN_PATH" envDefault:"/oauth/token"`
	UserInfoPath  string `env:"OIDC_USERINFO_PATH" envDefault:"/api/oauth/userinfo"`
	RevokePath    string `env:"OIDC_REVOKE_PATH" envDefault:"/oauth/revoke"`
	LogoutPath    string `env:"OIDC_LOGOUT_PATH" envDefault:"/oauth/logout"`
}

// Endpoint joins the provider host with an endpoint path.
func (p Provider) Endpoint(path string) string {
	return strings.TrimRight(p.Host, "/") + path
}

// HTTPClient bounds outbound calls to the authorization server.
type HTTPClient struct {
	Timeout    time.Duration `env:"OIDC_HTTP_TIMEOUT" envDefault:"15s"`
	RetryTimes int           `env:"OIDC_HTTP_RETRY_TIMES" envDefault:"2"`
	RetryDelay time.Duration `env:"OIDC_HTTP_RETRY_DELAY" envDefault:"200ms"`
}

// Mapping configures how userinfo claims land on the local user record.
// Attributes maps a column to a "|"-separated list of claim keys; the first
// non-empty claim wins.
type Mapping struct {
	IdentifierColumn   string            `env:"OIDC_IDENTIFIER_COLUMN" envDefault:"oidc_sub"`
	IdentifierClaim    string            `env:"OIDC_IDENTIFIER_CLAIM" envDefault:"sub"`
	RefreshTokenColumn string            `env:"OIDC_REFRESH_TOKEN_COLUMN" envDefault:"auth_server_refresh_token"`
	Attributes         map[string]string `env:"OIDC_USER_ATTRIBUTES" envDefault:"name:name|email,email:email"`
	ExchangeCodeTTL    time.Duration     `env:"OIDC_EXCHANGE_CODE_TTL" envDefault:"5m"`
}

// Frontend is where the browser is sent after the callback.
type Frontend struct {
	URL          string `env:"OIDC_FRONTEND_URL" envDefault:"http://localhost:3000"`
	CallbackPath string `env:"OIDC_FRONTEND_CALLBACK_PATH" envDefault:"/callback"`
}

// Session configures the cookie that scopes a pending authorization attempt.
type Session struct {
	CookieName   string        `env:"OIDC_SESSION_COOKIE" envDefault:"oidc_session"`
	TTL          time.Duration `env:"OIDC_SESSION_TTL" envDefault:"10m"`
	SecureCookie bool          `env:"OIDC_SESSION_SECURE" envDefault:"true"`
}

// RedisConfig configures the shared cache. An empty URL selects in-memory stores.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Database selects the user store backend: memory, sqlite or postgres.
type Database struct {
	Driver        string `env:"DB_DRIVER" envDefault:"memory"`
	DSN           string `env:"DATABASE_URL"`
	EncryptionKey string `env:"OIDC_TOKEN_ENCRYPTION_KEY,required"`
	MaxOpenConns  int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
}

// Audit configures where domain events go. No brokers means in-memory only.
type Audit struct {
	KafkaBrokers []string `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"AUDIT_KAFKA_TOPIC" envDefault:"oidc-audit"`
	BufferSize   int      `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional dotenv file and then parses the environment.
// Variables already set in the environment win over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
			}
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Provider.Scopes = platformstrings.DedupeAndTrim(cfg.Provider.Scopes)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Provider.Host); err != nil {
		errs = append(errs, fmt.Errorf("OIDC_AUTH_SERVER_HOST: %w", err))
	}
	if _, err := url.ParseRequestURI(c.Frontend.URL); err != nil {
		errs = append(errs, fmt.Errorf("OIDC_FRONTEND_URL: %w", err))
	}
	if !strings.HasPrefix(c.Frontend.CallbackPath, "/") {
		errs = append(errs, errors.New("OIDC_FRONTEND_CALLBACK_PATH must start with /"))
	}
	if len(c.Provider.Scopes) == 0 {
		errs = append(errs, errors.New("OIDC_SCOPES must name at least one scope"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("OIDC_HTTP_TIMEOUT must be positive"))
	}
	if c.HTTP.RetryTimes < 0 {
		errs = append(errs, errors.New("OIDC_HTTP_RETRY_TIMES must not be negative"))
	}
	if c.Mapping.ExchangeCodeTTL <= 0 {
		errs = append(errs, errors.New("OIDC_EXCHANGE_CODE_TTL must be positive"))
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

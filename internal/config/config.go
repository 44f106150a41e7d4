package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Placeholder secrets let a development checkout start without configuration.
// Validate rejects them in production.
const (
	InsecureAccessSecret  = "insecure-dev-access-secret-change-me"
	InsecureRefreshSecret = "insecure-dev-refresh-secret-change-me"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver         string
	LookupMode     string
	SoftDelete     bool
	AcquireTimeout time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	Path        string
	MaxOpen     int
	BusyTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	BucketAvatars  string
	UseSSL         bool
	Region         string
	PublicURL      string
	MaxAvatarBytes int64
}

func (c StorageConfig) Enabled() bool {
	return c.Endpoint != ""
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	Issuer           string
	PasswordHasher   string
	BcryptCost       int
	MaxSessions      int
}

// UsesInsecureSecrets reports whether either signing secret is still a placeholder.
func (c SecurityConfig) UsesInsecureSecrets() bool {
	return c.JWTAccessSecret == InsecureAccessSecret || c.JWTRefreshSecret == InsecureRefreshSecret
}

type AuthConfig struct {
	RegistrationStatus string
	PasswordPolicy     string
}

type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

type JobsConfig struct {
	SessionPurgeSpec string
}

type QueueConfig struct {
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Database         DatabaseConfig
	Postgres         PostgresConfig
	SQLite           SQLiteConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Auth             AuthConfig
	Bootstrap        BootstrapConfig
	Jobs             JobsConfig
	Queues           QueueConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("CMSAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.LookupMode = strings.ToLower(strings.TrimSpace(cfg.Database.LookupMode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum-valued options and refuses placeholder secrets in production.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver))
	}
	switch c.Database.LookupMode {
	case "strict", "permissive":
	default:
		errs = append(errs, fmt.Errorf("database.lookupmode: unsupported value %q", c.Database.LookupMode))
	}
	if c.Database.Driver == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn: required when database.driver=postgres"))
	}
	if c.Database.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("database.acquiretimeout: must be positive"))
	}

	switch c.Security.PasswordHasher {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("security.passwordhasher: unsupported value %q", c.Security.PasswordHasher))
	}
	if c.Security.PasswordHasher == "bcrypt" && c.Security.BcryptCost < 10 {
		errs = append(errs, fmt.Errorf("security.bcryptcost: must be at least 10, got %d", c.Security.BcryptCost))
	}
	if c.Security.JWTAccessTTL <= 0 || c.Security.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("security: token ttls must be positive"))
	}
	if c.Security.JWTAccessSecret == "" || c.Security.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("security: signing secrets must not be empty"))
	}
	if c.IsProduction() && c.Security.UsesInsecureSecrets() {
		errs = append(errs, errors.New("security: placeholder signing secrets are not allowed in production"))
	}

	switch c.Auth.RegistrationStatus {
	case "active", "pending":
	default:
		errs = append(errs, fmt.Errorf("auth.registrationstatus: unsupported value %q", c.Auth.RegistrationStatus))
	}
	switch c.Auth.PasswordPolicy {
	case "basic", "strong":
	default:
		errs = append(errs, fmt.Errorf("auth.passwordpolicy: unsupported value %q", c.Auth.PasswordPolicy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.lookupmode", "permissive")
	v.SetDefault("database.softdelete", false)
	v.SetDefault("database.acquiretimeout", "5s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("sqlite.path", "data/cmsauth.db")
	v.SetDefault("sqlite.maxopen", 4)
	v.SetDefault("sqlite.busytimeout", "5s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "auth:maintenance")
	v.SetDefault("redis.group", "auth-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketavatars", "cmsauth-avatars")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.publicurl", "")
	v.SetDefault("storage.maxavatarbytes", 2<<20)

	v.SetDefault("security.jwtaccesssecret", InsecureAccessSecret)
	v.SetDefault("security.jwtrefreshsecret", InsecureRefreshSecret)
	v.SetDefault("security.jwtaccessttl", "1h")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.issuer", "cmsauth")
	v.SetDefault("security.passwordhasher", "bcrypt")
	v.SetDefault("security.bcryptcost", 10)
	v.SetDefault("security.maxsessions", 10)

	v.SetDefault("auth.registrationstatus", "active")
	v.SetDefault("auth.passwordpolicy", "basic")

	v.SetDefault("bootstrap.adminemail", "")
	v.SetDefault("bootstrap.adminpassword", "")
	v.SetDefault("bootstrap.adminname", "Administrator")

	v.SetDefault("jobs.sessionpurgespec", "0 0 * * * *")
	v.SetDefault("queues.claiminterval", "30s")

	v.SetDefault("logging.level", "")
	v.SetDefault("allowcorsorigins", []string{})
}

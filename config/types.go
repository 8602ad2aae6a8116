package config

import "time"

type AppConfig struct {
	ListenAddr     string              `yaml:"listen_addr" env:"CHAPEL_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv         string              `yaml:"app_env" env:"CHAPEL_APP_ENV" env-default:"prod"`
	DBDriver       string              `yaml:"db_driver" env:"CHAPEL_DB_DRIVER"`
	DBURL          string              `yaml:"db_url" env:"CHAPEL_DB_URL"`
	DBPath         string              `yaml:"db_path" env:"CHAPEL_DB_PATH"`
	Pepper         string              `yaml:"pepper" env:"CHAPEL_PEPPER"`
	TLSEnabled     bool                `yaml:"tls_enabled" env:"CHAPEL_TLS_ENABLED"`
	TLSCert        string              `yaml:"tls_cert" env:"CHAPEL_TLS_CERT"`
	TLSKey         string              `yaml:"tls_key" env:"CHAPEL_TLS_KEY"`
	TrustedProxies []string            `yaml:"trusted_proxies" env:"CHAPEL_TRUSTED_PROXIES" env-separator:","`
	Auth           AuthConfig          `yaml:"auth"`
	Redis          RedisConfig         `yaml:"redis"`
	Audit          AuditConfig         `yaml:"audit"`
	Observability  ObservabilityConfig `yaml:"observability"`
	Log            LogConfig           `yaml:"log"`
	Bootstrap      BootstrapConfig     `yaml:"bootstrap"`
}

func (c *AppConfig) IsDev() bool {
	if c == nil {
		return false
	}
	return c.AppEnv == "dev"
}

type AuthConfig struct {
	AccessSecret       string        `yaml:"access_secret" env:"CHAPEL_AUTH_ACCESS_SECRET"`
	RefreshSecret      string        `yaml:"refresh_secret" env:"CHAPEL_AUTH_REFRESH_SECRET"`
	Issuer             string        `yaml:"issuer" env:"CHAPEL_AUTH_ISSUER" env-default:"chapel-auth"`
	AccessTTL          time.Duration `yaml:"access_ttl" env:"CHAPEL_AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl" env:"CHAPEL_AUTH_REFRESH_TTL" env-default:"24h"`
	RememberMeTTL      time.Duration `yaml:"remember_me_ttl" env:"CHAPEL_AUTH_REMEMBER_ME_TTL" env-default:"720h"`
	MaxLoginAttempts   int           `yaml:"max_login_attempts" env:"CHAPEL_AUTH_MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LockoutDuration    time.Duration `yaml:"lockout_duration" env:"CHAPEL_AUTH_LOCKOUT_DURATION" env-default:"15m"`
	PasswordMinLength  int           `yaml:"password_min_length" env:"CHAPEL_AUTH_PASSWORD_MIN_LENGTH" env-default:"12"`
	RefreshStore       string        `yaml:"refresh_store" env:"CHAPEL_AUTH_REFRESH_STORE" env-default:"sql"`
	AdminRole          string        `yaml:"admin_role" env:"CHAPEL_AUTH_ADMIN_ROLE" env-default:"administrator"`
	LoginRatePerMinute int           `yaml:"login_rate_per_minute" env:"CHAPEL_AUTH_LOGIN_RATE_PER_MINUTE" env-default:"10"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"CHAPEL_REDIS_ADDR"`
	Password string `yaml:"password" env:"CHAPEL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CHAPEL_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"CHAPEL_REDIS_PREFIX" env-default:"chapel"`
}

type AuditConfig struct {
	Retention     int    `yaml:"retention" env:"CHAPEL_AUDIT_RETENTION" env-default:"1000"`
	PruneSchedule string `yaml:"prune_schedule" env:"CHAPEL_AUDIT_PRUNE_SCHEDULE" env-default:"@every 10m"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"CHAPEL_METRICS_ENABLED"`
	MetricsToken   string `yaml:"metrics_token" env:"CHAPEL_METRICS_TOKEN"`
}

type LogConfig struct {
	File       string `yaml:"file" env:"CHAPEL_LOG_FILE"`
	ErrorFile  string `yaml:"error_file" env:"CHAPEL_LOG_ERROR_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"CHAPEL_LOG_MAX_SIZE_MB" env-default:"50"`
	MaxBackups int    `yaml:"max_backups" env:"CHAPEL_LOG_MAX_BACKUPS" env-default:"5"`
}

// BootstrapConfig holds the initial passwords for provisioned accounts.
type BootstrapConfig struct {
	AdminPassword  string `yaml:"admin_password" env:"CHAPEL_BOOTSTRAP_ADMIN_PASSWORD"`
	PastorPassword string `yaml:"pastor_password" env:"CHAPEL_BOOTSTRAP_PASTOR_PASSWORD"`
}

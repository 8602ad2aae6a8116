package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	envPrefix         = "CHAPEL_"
)

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	applyEnvAliases(cfg)
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvAliases(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	if v := getEnv("JWT_SECRET"); v != "" {
		cfg.Auth.AccessSecret = strings.TrimSpace(v)
	}
	if v := getEnv("JWT_REFRESH_SECRET"); v != "" {
		cfg.Auth.RefreshSecret = strings.TrimSpace(v)
	}
	if v := getEnv("PEPPER"); v != "" {
		cfg.Pepper = strings.TrimSpace(v)
	}
	if v := getEnv("ENV", "APP_ENV", "NODE_ENV"); v != "" {
		cfg.AppEnv = strings.TrimSpace(v)
	}
	if v := getEnv("DATABASE_URL"); v != "" {
		cfg.DBURL = strings.TrimSpace(v)
	}
	if v := getEnv("REDIS_URL", "REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = strings.TrimSpace(v)
	}
	if v := getEnv("PORT", envPrefix+"PORT"); v != "" {
		cfg.ListenAddr = listenAddrWithPort(cfg.ListenAddr, v)
	}
	if v := getEnv("LOG_DIR", envPrefix+"LOG_DIR"); v != "" {
		base := strings.TrimSpace(v)
		if cfg.Log.File == "" {
			cfg.Log.File = filepathJoin(base, "app.log")
		}
		if cfg.Log.ErrorFile == "" {
			cfg.Log.ErrorFile = filepathJoin(base, "error.log")
		}
	}
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.Pepper = strings.TrimSpace(cfg.Pepper)
	cfg.Auth.AccessSecret = strings.TrimSpace(cfg.Auth.AccessSecret)
	cfg.Auth.RefreshSecret = strings.TrimSpace(cfg.Auth.RefreshSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.RefreshStore = strings.ToLower(strings.TrimSpace(cfg.Auth.RefreshStore))
	cfg.Auth.AdminRole = strings.TrimSpace(cfg.Auth.AdminRole)
	cfg.Redis.Addr = strings.TrimPrefix(strings.TrimSpace(cfg.Redis.Addr), "redis://")
	cfg.Audit.PruneSchedule = strings.TrimSpace(cfg.Audit.PruneSchedule)
	if cfg.DBDriver == "" {
		if cfg.DBURL == "" && cfg.DBPath != "" {
			cfg.DBDriver = "sqlite"
		} else {
			cfg.DBDriver = "postgres"
		}
	}
	if cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}
	if cfg.Auth.RefreshStore == "" {
		cfg.Auth.RefreshStore = "sql"
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "administrator"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "chapel-auth"
	}
	if cfg.Auth.LoginRatePerMinute <= 0 {
		cfg.Auth.LoginRatePerMinute = 10
	}
	if cfg.Audit.Retention <= 0 {
		cfg.Audit.Retention = 1000
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = "@every 10m"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "chapel"
	}
	if cfg.IsDev() {
		cfg.TLSEnabled = false
	}
}

func getEnv(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func resolveConfigPath() string {
	if v := getEnv("APP_CONFIG", envPrefix+"APP_CONFIG"); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultConfigPath
}

func listenAddrWithPort(currentAddr, portRaw string) string {
	port := strings.TrimSpace(portRaw)
	if port == "" {
		return currentAddr
	}
	if _, err := strconv.Atoi(port); err != nil {
		return currentAddr
	}
	host := "0.0.0.0"
	parts := strings.Split(strings.TrimSpace(currentAddr), ":")
	if len(parts) > 1 {
		host = strings.Join(parts[:len(parts)-1], ":")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}

func filepathJoin(base, leaf string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return leaf
	}
	base = strings.TrimRight(base, "/\\")
	return base + string(os.PathSeparator) + leaf
}

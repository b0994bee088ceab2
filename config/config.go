package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/taskmaster-app/tmsync/cache"
	"github.com/taskmaster-app/tmsync/common"
)

// Keys, as used in a config file.
const (
	KeyAPIURL           = "api_url"
	KeyCacheDir         = "cache_dir"
	KeyCacheBackend     = "cache_backend"
	KeySyncInterval     = "sync_interval"
	KeyDebug            = "debug"
	KeyRequestTimeout   = "request_timeout"
	KeyRetryMax         = "retry_max"
	KeySchemaValidation = "schema_validation"
	KeySessionKey       = "session_key"
	KeyKeyring          = "keyring"
	KeyUsername         = "username"
	KeyPassword         = "password"
)

var envNames = map[string]string{
	KeyAPIURL:           common.EnvAPIURL,
	KeyCacheDir:         common.EnvCacheDir,
	KeyCacheBackend:     common.EnvCacheBackend,
	KeySyncInterval:     common.EnvSyncInterval,
	KeyDebug:            common.EnvDebug,
	KeyRequestTimeout:   common.EnvRequestTimeout,
	KeyRetryMax:         common.EnvRetryMax,
	KeySchemaValidation: common.EnvSchemaValidation,
	KeySessionKey:       common.EnvSessionKey,
	KeyKeyring:          common.EnvKeyring,
	KeyUsername:         common.EnvUsername,
	KeyPassword:         common.EnvPassword,
}

type Config struct {
	APIURL           string
	CacheDir         string
	CacheBackend     string
	SyncInterval     time.Duration
	Debug            bool
	RequestTimeout   time.Duration
	RetryMax         int
	SchemaValidation bool
	SessionKey       string
	Keyring          bool

	// Viper holds the merged settings, including credentials, for
	// auth.GetCredentials.
	Viper *viper.Viper
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		APIURL:           common.APIServer,
		CacheBackend:     cache.BackendStorm,
		SyncInterval:     common.DefaultSyncInterval,
		RequestTimeout:   common.RequestTimeout * time.Second,
		RetryMax:         common.MaxRequestRetries,
		SchemaValidation: true,
		Keyring:          true,
	}
}

// Load reads the optional config file at path and the environment, the
// environment taking precedence. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault(KeyAPIURL, def.APIURL)
	v.SetDefault(KeyCacheBackend, def.CacheBackend)
	v.SetDefault(KeySyncInterval, def.SyncInterval.String())
	v.SetDefault(KeyRequestTimeout, def.RequestTimeout.String())
	v.SetDefault(KeyRetryMax, def.RetryMax)
	v.SetDefault(KeySchemaValidation, def.SchemaValidation)
	v.SetDefault(KeyKeyring, def.Keyring)

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("Load | %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("Load | %s: %w", path, err)
		}
	}

	cfg := Config{
		APIURL:           strings.TrimRight(strings.TrimSpace(v.GetString(KeyAPIURL)), "/"),
		CacheDir:         v.GetString(KeyCacheDir),
		CacheBackend:     v.GetString(KeyCacheBackend),
		Debug:            v.GetBool(KeyDebug),
		RetryMax:         v.GetInt(KeyRetryMax),
		SchemaValidation: v.GetBool(KeySchemaValidation),
		SessionKey:       v.GetString(KeySessionKey),
		Keyring:          v.GetBool(KeyKeyring),
		Viper:            v,
	}

	var err error

	if cfg.SyncInterval, err = common.ParseDuration(KeySyncInterval, v.GetString(KeySyncInterval)); err != nil {
		return Config{}, fmt.Errorf("Load | %w", err)
	}

	if cfg.RequestTimeout, err = common.ParseDuration(KeyRequestTimeout, v.GetString(KeyRequestTimeout)); err != nil {
		return Config{}, fmt.Errorf("Load | %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("Load | %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyAPIURL))
	}

	switch c.CacheBackend {
	case cache.BackendStorm, cache.BackendSQLite, cache.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown %s: %q", KeyCacheBackend, c.CacheBackend))
	}

	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySyncInterval))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyRequestTimeout))
	}

	if c.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRetryMax))
	}

	return errors.Join(errs...)
}

package common

import (
	"fmt"
	"strconv"
	"time"
)

const (
	EnvAPIURL           = "API_URL"
	EnvCacheDir         = "TM_CACHE_DIR"
	EnvCacheBackend     = "TM_CACHE_BACKEND" // storm (default), sqlite
	EnvSyncInterval     = "TM_SYNC_INTERVAL"
	EnvDebug            = "TM_DEBUG"
	EnvRequestTimeout   = "TM_REQUEST_TIMEOUT" // Override default request timeout in seconds
	EnvRetryMax         = "TM_RETRY_MAX"
	EnvSchemaValidation = "TM_SCHEMA_VALIDATION"
	EnvSessionKey       = "TM_SESSION_KEY" // seals the session stored in the keyring
	EnvKeyring          = "TM_KEYRING"     // false keeps the session in memory only
	EnvUsername         = "TM_USERNAME"
	EnvPassword         = "TM_PASSWORD"
)

// ParseDuration accepts either a Go duration ("45s") or a whole number of
// seconds. name is only used in the error.
func ParseDuration(name, val string) (time.Duration, error) {
	if d, err := time.ParseDuration(val); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", name, val)
	}

	return time.Duration(secs) * time.Second, nil
}

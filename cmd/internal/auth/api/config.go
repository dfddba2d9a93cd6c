package authapi

import (
	"os"
	"strconv"
	"strings"
)

const defaultMaxBodyBytes = 64 << 10 // 64 KiB

// Config holds HTTP-level knobs for the auth endpoints.
type Config struct {
	// MaxBodyBytes caps the request body size accepted by the JSON decoder.
	MaxBodyBytes int64
}

// LoadConfigFromEnv loads Config from environment variables with defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{MaxBodyBytes: defaultMaxBodyBytes}

	if v := strings.TrimSpace(os.Getenv("TETHER_AUTH_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}

	return cfg
}

package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// PairingTTL bounds how long an unconsumed pairing token stays valid.
	PairingTTL time.Duration

	// PairingSweepInterval controls the background reclaim of expired tokens.
	PairingSweepInterval time.Duration

	// Security policy:
	// If true, TETHER_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("TETHER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("TETHER_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("TETHER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TETHER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TETHER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TETHER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TETHER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TETHER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TETHER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TETHER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TETHER_READINESS_REQUIRE_DB", false),

		PairingTTL:           EnvDuration("TETHER_PAIRING_TTL", 5*time.Minute),
		PairingSweepInterval: EnvDuration("TETHER_PAIRING_SWEEP_INTERVAL", time.Minute),

		RequireTokenHMAC: EnvBool("TETHER_REQUIRE_TOKEN_HMAC", false),
	}
}

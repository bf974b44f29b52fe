package config

import "time"

// IdempotencyConfig drives the Idempotency-Key middleware on booking
// creation.  When Enabled is false or no Redis client is configured the
// header is ignored.  TTL is how long a stored response is replayed;
// LockTTL bounds how long a key stays reserved by a request that never
// finished.  Responses larger than MaxBodyBytes are not stored.
type IdempotencyConfig struct {
    Enabled      bool
    TTL          time.Duration
    LockTTL      time.Duration
    Prefix       string
    MaxBodyBytes int
}

// LoadIdempotencyConfig reads IDEMPOTENCY_* variables.
func LoadIdempotencyConfig() IdempotencyConfig {
    cfg := IdempotencyConfig{
        Enabled:      envBool("IDEMPOTENCY_ENABLED", true),
        TTL:          envDur("IDEMPOTENCY_TTL", 24*time.Hour),
        LockTTL:      envDur("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
        Prefix:       envStr("IDEMPOTENCY_PREFIX", "idem"),
        MaxBodyBytes: envInt("IDEMPOTENCY_MAX_BODY_BYTES", 64<<10),
    }
    if cfg.TTL <= 0 { cfg.TTL = 24 * time.Hour }
    if cfg.LockTTL <= 0 { cfg.LockTTL = 30 * time.Second }
    return cfg
}

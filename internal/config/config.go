package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "time"

    "github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
    DriverMySQL  = "mysql"
    DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// MySQL driver is selected.
type Config struct {
    Env         string // application environment (e.g. "dev", "prod")
    Port        string // HTTP port to listen on
    StoreDriver string // "mysql" or "memory"
    DBUser      string // database username
    DBPass      string // database password (optional)
    DBHost      string // database host address
    DBPort      string // database port number
    DBName      string // database name
    Migrate     bool   // apply embedded migrations on start
    JWTSecret   string // secret used to verify customer and admin JWTs
    RabbitURL   string // AMQP url; empty disables event publishing
    PIIKey      string // hex encoded 32 byte key for passenger data

    StoreCallTimeout time.Duration // bound on every store round trip
    ReconcileEvery   time.Duration // background repair sweep period, 0 disables

    Policy      PolicyConfig
    Redis       RedisConfig
    RateLimit   RateLimitConfig
    Idempotency IdempotencyConfig
}

// PolicyConfig carries the refund and change rules.
type PolicyConfig struct {
    FullRefundBefore    time.Duration // full refund at or beyond this lead time
    PartialRefundBefore time.Duration // partial refund at or beyond this lead time
    CancelCutoff        time.Duration // no cancellation or change inside this window
    PartialFeePct       int           // fee retained in the partial band
    CrossSellPct        int           // discount on a linked dependent booking
}

// Load reads an optional .env file and then the environment.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
    // .env is a convenience for local runs; real deployments set the env
    _ = godotenv.Load()

    cfg := Config{
        Env:         envStr("APP_ENV", "dev"),
        Port:        envStr("APP_PORT", "8080"),
        StoreDriver: envStr("STORE_DRIVER", DriverMySQL),
        JWTSecret:   must("JWT_SECRET"),
        RabbitURL:   os.Getenv("RABBITMQ_URL"),
        PIIKey:      must("PII_KEY"),
        Migrate:     envBool("DB_MIGRATE", true),

        StoreCallTimeout: envDur("STORE_CALL_TIMEOUT", 5*time.Second),
        ReconcileEvery:   envDur("RECONCILE_EVERY", 0),

        Policy: PolicyConfig{
            FullRefundBefore:    envDur("REFUND_FULL_BEFORE", 72*time.Hour),
            PartialRefundBefore: envDur("REFUND_PARTIAL_BEFORE", 24*time.Hour),
            CancelCutoff:        envDur("CANCEL_CUTOFF", 24*time.Hour),
            PartialFeePct:       envInt("REFUND_PARTIAL_FEE_PCT", 25),
            CrossSellPct:        envInt("CROSS_SELL_DISCOUNT_PCT", 10),
        },
        Redis:       LoadRedisConfig(),
        RateLimit:   LoadRateLimitConfig(),
        Idempotency: LoadIdempotencyConfig(),
    }
    switch cfg.StoreDriver {
    case DriverMySQL:
        cfg.DBUser = must("DB_USER")       // database user
        cfg.DBPass = os.Getenv("DB_PASS")  // database password (empty allowed)
        cfg.DBHost = must("DB_HOST")       // database host
        cfg.DBPort = mustInt("DB_PORT")    // database port
        cfg.DBName = must("DB_NAME")       // database name
    case DriverMemory:
    default:
        log.Fatalf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
    }
    return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but checks the value is an integer and returns it
// unchanged, as ports are passed on as strings.
func mustInt(key string) string {
    s := must(key)
    if _, err := strconv.Atoi(s); err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return s
}

package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Thresholds is the subset of Config that's reasonable to tune per
// dependency from the environment; ShouldTrip and OnStateChange are always
// supplied by the wrapper constructor instead, since they're code, not
// deployment-time knobs.
type Thresholds struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// ToConfig lifts Thresholds into a Config; callers attach ShouldTrip and
// OnStateChange afterward.
func (t Thresholds) ToConfig() Config {
	return Config{
		MaxRequests:      t.MaxRequests,
		Interval:         t.Interval,
		Timeout:          t.Timeout,
		FailureThreshold: t.FailureThreshold,
		SuccessThreshold: t.SuccessThreshold,
	}
}

// GetRedisConfig reads the thresholds guarding the abort fabric's health
// check against the Redis pub/sub broker (CB_REDIS_*). Outages there are
// expected to be transient network partitions, so it recovers faster than
// the database breaker.
func GetRedisConfig() Thresholds {
	return Thresholds{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// GetDatabaseConfig reads the thresholds guarding Postgres writes (CB_DB_*).
// The longer timeout reflects that a tripped database is more likely to
// need a real recovery (failover, connection pool exhaustion clearing) than
// a network blip.
func GetDatabaseConfig() Thresholds {
	return Thresholds{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// GetLLMConfig reads the thresholds guarding outbound calls to a model
// provider (CB_LLM_*). Providers routinely take tens of seconds per
// request, so the failure threshold is lower than the database's — a
// provider that's timing out repeatedly should stop taking new streams
// quickly rather than let every caller queue behind it.
func GetLLMConfig() Thresholds {
	return Thresholds{
		MaxRequests:      getEnvUint32("CB_LLM_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_LLM_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_LLM_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_LLM_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_LLM_SUCCESS_THRESHOLD", 2),
	}
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

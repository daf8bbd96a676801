package config_test

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/starjobs/internal/config"
)

func parse(vars map[string]string) (config.Config, error) {
	return config.Parse(env.Options{Environment: vars})
}

func TestParse_Defaults(t *testing.T) {
	c, err := parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "production", c.AppEnv)
	assert.Equal(t, ":8080", c.APIAddr)
	assert.Equal(t, config.BackendMemory, c.StoreBackend)
	assert.Equal(t, config.BackendMemory, c.QueueBackend)
	assert.True(t, c.StoreBreaker)
	assert.Equal(t, 2, c.WorkerConcurrency)
	assert.Equal(t, time.Second, c.QueuePollInterval)
	assert.Equal(t, time.Minute, c.JobLease)
	assert.Equal(t, 15*time.Second, c.JobLeaseRenew)
	assert.Equal(t, time.Hour, c.JobLeaseMax)
	assert.Equal(t, 24*time.Hour, c.JobRetention)
	assert.Equal(t, time.Minute, c.RecoveryInterval)
	assert.Equal(t, time.Second, c.RecoveryProbe)
	assert.Equal(t, 45*time.Second, c.StarJobDuration)
	assert.Equal(t, 100, c.SubmitRateLimit)
}

func TestParse_Overrides(t *testing.T) {
	c, err := parse(map[string]string{
		"STORE_BACKEND":      "postgres",
		"POSTGRES_DSN":       "postgres://starjobs@localhost/starjobs",
		"QUEUE_BACKEND":      "redis",
		"REDIS_ADDR":         "localhost:6379",
		"WORKER_CONCURRENCY": "8",
		"STAR_JOB_DURATION":  "250ms",
		"STORE_BREAKER":      "false",
	})
	require.NoError(t, err)

	assert.Equal(t, config.BackendPostgres, c.StoreBackend)
	assert.Equal(t, config.BackendRedis, c.QueueBackend)
	assert.Equal(t, 8, c.WorkerConcurrency)
	assert.Equal(t, 250*time.Millisecond, c.StarJobDuration)
	assert.False(t, c.StoreBreaker)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "mongo"}},
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres"}},
		{"redis store without addr", map[string]string{"STORE_BACKEND": "redis"}},
		{"redis queue without addr", map[string]string{"QUEUE_BACKEND": "redis"}},
		{"unknown queue", map[string]string{"QUEUE_BACKEND": "kafka"}},
		{"no workers", map[string]string{"WORKER_CONCURRENCY": "0"}},
		{"renew longer than lease", map[string]string{"JOB_LEASE": "10s", "JOB_LEASE_RENEW": "10s"}},
		{"bad duration", map[string]string{"JOB_LEASE": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.vars)
			require.Error(t, err)
		})
	}
}

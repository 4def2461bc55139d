package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - retryJitterFraction))
		hi := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestPostgresConfig_DSNEscapesCredentials(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "auth", Password: "p@ss/word", DBName: "authcore", SSLMode: "disable"}
	dsn := cfg.DSN()

	assert.Contains(t, dsn, "postgres://auth:p%40ss%2Fword@db:5432/authcore")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}))
	assert.False(t, isConnectionError(errors.New("syntax error at or near")))
	assert.True(t, isConnectionError(fmt.Errorf("dial: %w", errors.New("dial tcp 127.0.0.1:5432: connection refused"))))
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	for _, k := range []string{"PG_HOST", "PG_PORT", "PG_USER", "PG_PASSWORD", "PG_DB", "PG_SSLMODE"} {
		t.Setenv(k, "")
	}
	assert.Equal(t, "postgres://postgres@localhost:5432/paxtrack?sslmode=disable", BuildPostgresDSNFromEnv())

	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("PG_USER", "pax")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_DB", "tracker")
	t.Setenv("PG_SSLMODE", "require")
	assert.Equal(t, "postgres://pax:secret@db:6543/tracker?sslmode=require", BuildPostgresDSNFromEnv())
}

func TestOpenRedis(t *testing.T) {
	assert.Nil(t, OpenRedis("", ""))

	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "-1")
	assert.Equal(t, "cache:6380", RedisAddrFromEnv())
	c := OpenRedisFromEnv()
	require.NotNil(t, c)
	defer c.Close()
	assert.Equal(t, "cache:6380", c.Options().Addr)
	assert.Equal(t, 0, c.Options().DB)
}

package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/internal/platform/config"
)

func TestNewUnconfiguredDisablesCaching(t *testing.T) {
	client, err := New(config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRejectsMalformedURL(t *testing.T) {
	client, err := New(config.RedisConfig{URL: "not-a-redis-url"})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "parse redis URL")
}

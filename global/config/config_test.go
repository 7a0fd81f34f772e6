package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("DMSYNC_JWT_SECRET", "s3cr3t")
	t.Setenv("DMSYNC_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("DMSYNC_NATS_SERVERS", "nats://a:4222, nats://b:4222")
	t.Setenv("DMSYNC_PORT", "9090")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "dmsync", c.MongoDatabase)
	assert.Equal(t, LiveSourceDirect, c.LiveSource)

	nc := c.Nats()
	require.NotNil(t, nc)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, nc.Servers)

	assert.Nil(t, c.Redis())
	assert.Nil(t, c.Kafka())
	assert.Nil(t, c.S3())
	assert.Equal(t, "mongodb://localhost:27017", c.Mongo().Uri)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("DMSYNC_JWT_SECRET", "")
	t.Setenv("DMSYNC_MONGO_URI", "mongodb://localhost:27017")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &Config{JWTSecret: "k", MongoURI: "mongodb://x", LiveSource: "poll"}
	assert.Error(t, c.Validate())

	c.LiveSource = LiveSourceChangeStream
	assert.NoError(t, c.Validate())

	c.S3Bucket = "attachments"
	assert.Error(t, c.Validate())
}

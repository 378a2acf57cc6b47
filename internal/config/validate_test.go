package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("database url is optional", func(t *testing.T) {
		c := validConfig()
		c.Database.URL = ""
		assert.NoError(t, c.Validate())
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		c := validConfig()
		c.Auth.JWTSecret = ""
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_JWT_SECRET is required")
	})

	t.Run("short jwt secret", func(t *testing.T) {
		c := validConfig()
		c.Auth.JWTSecret = "short"
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least 16")
	})

	t.Run("short cron secret", func(t *testing.T) {
		c := validConfig()
		c.Cron.Secret = "short"
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "CRON_SECRET")
	})
}

func TestValidateDatabase(t *testing.T) {
	assert.NoError(t, validConfig().ValidateDatabase())

	c := validConfig()
	c.Database.URL = ""
	err := c.ValidateDatabase()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

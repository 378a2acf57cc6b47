package config

import "fmt"

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required but not set")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 16 characters")
	}
	if c.Cron.Secret != "" && len(c.Cron.Secret) < 16 {
		return fmt.Errorf("CRON_SECRET must be at least 16 characters")
	}
	return nil
}

// ValidateDatabase checks the settings commands that need Postgres require.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set")
	}
	return nil
}

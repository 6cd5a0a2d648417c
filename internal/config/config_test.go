package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERDESK_AUTH_TOKENSECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 3004 || cfg.Addr() != ":3004" {
		t.Errorf("addr = %q", cfg.Addr())
	}
	if cfg.Auth.TokenTTL != time.Hour || cfg.Auth.BcryptCost != 10 {
		t.Errorf("auth defaults = %+v", cfg.Auth)
	}
	if cfg.Storage.Driver != DriverJSON || cfg.Storage.DataPath != "data/users.json" {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Users.UniqueEmail {
		t.Error("unique email must default to false")
	}
	if cfg.Backup.Interval != 15*time.Minute || cfg.Backup.Keep != 10 {
		t.Errorf("backup defaults = %+v", cfg.Backup)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	dotenv := "# local overrides\nUSERDESK_AUTH_TOKENSECRET=\"from-dotenv\"\nexport USERDESK_SERVER_PORT=8081\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("USERDESK_AUTH_TOKENTTL", "30m")
	t.Setenv("USERDESK_STORAGE_DRIVER", "SQLite")
	t.Setenv("USERDESK_USERS_UNIQUEEMAIL", "true")
	// registered with t.Setenv so the values written by the .env loader are restored
	t.Setenv("USERDESK_AUTH_TOKENSECRET", "")
	os.Unsetenv("USERDESK_AUTH_TOKENSECRET")
	t.Setenv("USERDESK_SERVER_PORT", "")
	os.Unsetenv("USERDESK_SERVER_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.TokenSecret != "from-dotenv" {
		t.Errorf("token secret = %q", cfg.Auth.TokenSecret)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Storage.Driver != DriverSQLite || !cfg.Users.UniqueEmail {
		t.Errorf("unexpected %+v %+v", cfg.Storage, cfg.Users)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Server.Port = 3004
		c.Auth.TokenSecret = "x"
		c.Auth.TokenTTL = time.Hour
		c.Storage.Driver = DriverJSON
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Auth.TokenSecret = " " }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

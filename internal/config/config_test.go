package config

import (
	"testing"
)

var configEnvVars = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SSLMODE",
	"DB_POOL_MIN", "DB_POOL_MAX", "SQLITE_PATH",
	"CORS_ORIGINS", "JWT_SECRET", "JWKS_URL", "REDIS_URL", "ANALYTICS_STREAM",
}

// clearConfigEnv blanks every config variable for the duration of the test.
// Viper ignores empty variables, so defaults apply.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{
			Driver: DriverPostgres, Host: "localhost", Port: "5432", Name: "moveit",
			User: "postgres", Password: "postgres", SSLMode: "disable", PoolMin: 2, PoolMax: 10,
		},
		CORS:      CORSConfig{Origins: []string{"http://localhost:3000"}},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Analytics: AnalyticsConfig{Stream: "moveit:form-events"},
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DB_PASSWORD", "testpass")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Env != "development" {
		t.Errorf("Expected env development, got %s", cfg.Server.Env)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Expected driver postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.Host != "host.docker.internal" {
		t.Errorf("Expected host host.docker.internal, got %s", cfg.Database.Host)
	}
	if cfg.Database.Name != "moveit" {
		t.Errorf("Expected db name moveit, got %s", cfg.Database.Name)
	}
	if cfg.Database.SSLMode != "disable" {
		t.Errorf("Expected sslmode disable, got %s", cfg.Database.SSLMode)
	}
	if cfg.Database.PoolMin != 2 || cfg.Database.PoolMax != 10 {
		t.Errorf("Expected pool 2/10, got %d/%d", cfg.Database.PoolMin, cfg.Database.PoolMax)
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %d", len(cfg.CORS.Origins))
	}
	if cfg.Analytics.RedisURL != "" {
		t.Errorf("Expected no redis url, got %s", cfg.Analytics.RedisURL)
	}
	if cfg.Analytics.Stream != "moveit:form-events" {
		t.Errorf("Expected default stream, got %s", cfg.Analytics.Stream)
	}
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "testdb")
	t.Setenv("DB_USER", "testuser")
	t.Setenv("DB_PASSWORD", "testpass")
	t.Setenv("DB_SSLMODE", "require")
	t.Setenv("DB_POOL_MIN", "5")
	t.Setenv("DB_POOL_MAX", "20")
	t.Setenv("CORS_ORIGINS", "http://example.com,https://app.example.com")
	t.Setenv("JWKS_URL", "https://auth.example.com/.well-known/jwks.json")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ANALYTICS_STREAM", "events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Server.LogLevel)
	}
	if cfg.Server.IsDevelopment() {
		t.Error("Expected production environment")
	}
	if cfg.Database.Port != "5433" {
		t.Errorf("Expected port 5433, got %s", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("Expected sslmode require, got %s", cfg.Database.SSLMode)
	}
	if cfg.Database.PoolMin != 5 || cfg.Database.PoolMax != 20 {
		t.Errorf("Expected pool 5/20, got %d/%d", cfg.Database.PoolMin, cfg.Database.PoolMax)
	}
	if cfg.CORS.Origins[0] != "http://example.com" {
		t.Errorf("Expected first origin http://example.com, got %s", cfg.CORS.Origins[0])
	}
	if cfg.Auth.JWKSURL == "" {
		t.Error("Expected JWKS url to be set")
	}
	if cfg.Analytics.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Expected redis url, got %s", cfg.Analytics.RedisURL)
	}
	if cfg.Analytics.Stream != "events" {
		t.Errorf("Expected stream events, got %s", cfg.Analytics.Stream)
	}
}

func TestLoad_SQLiteNeedsNoPassword(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/moveit.db")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Expected driver sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Database.SQLitePath != "/tmp/moveit.db" {
		t.Errorf("Expected sqlite path, got %s", cfg.Database.SQLitePath)
	}
}

func TestLoad_MissingPassword(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Error("Expected error when DB_PASSWORD is missing")
	}
}

func TestLoad_MissingAuth(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DB_PASSWORD", "testpass")

	if _, err := Load(); err == nil {
		t.Error("Expected error when neither JWT_SECRET nor JWKS_URL is set")
	}
}

func TestValidate_InvalidPoolSizes(t *testing.T) {
	tests := []struct {
		name    string
		poolMin int
		poolMax int
		wantErr bool
	}{
		{name: "negative pool min", poolMin: -1, poolMax: 10, wantErr: true},
		{name: "zero pool max", poolMin: 0, poolMax: 0, wantErr: true},
		{name: "pool min greater than max", poolMin: 15, poolMax: 10, wantErr: true},
		{name: "valid pool sizes", poolMin: 2, poolMax: 10, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Database.PoolMin = tt.poolMin
			cfg.Database.PoolMax = tt.poolMax

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }},
		{name: "missing db host", mutate: func(c *Config) { c.Database.Host = "" }},
		{name: "missing db password", mutate: func(c *Config) { c.Database.Password = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.SQLitePath = ""
		}},
		{name: "missing CORS origins", mutate: func(c *Config) { c.CORS.Origins = []string{} }},
		{name: "missing token verification", mutate: func(c *Config) { c.Auth = AuthConfig{} }},
		{name: "redis without stream", mutate: func(c *Config) {
			c.Analytics = AnalyticsConfig{RedisURL: "redis://localhost:6379"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}

func TestValidate_SQLiteSkipsPostgresFields(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{Driver: DriverSQLite, SQLitePath: ":memory:"}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{name: "single origin", input: "http://localhost:3000", expect: []string{"http://localhost:3000"}},
		{
			name:   "multiple origins",
			input:  "http://localhost:3000,http://localhost:3001",
			expect: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		{
			name:   "origins with spaces",
			input:  " http://localhost:3000 , http://localhost:3001 ",
			expect: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		{name: "empty string", input: "", expect: []string{}},
		{name: "only commas", input: ",,,", expect: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseOrigins(tt.input)
			if len(result) != len(tt.expect) {
				t.Errorf("Expected %d origins, got %d", len(tt.expect), len(result))
				return
			}
			for i, origin := range result {
				if origin != tt.expect[i] {
					t.Errorf("Expected origin %s at index %d, got %s", tt.expect[i], i, origin)
				}
			}
		})
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "render-service", cfg.App.Name)
				assert.Equal(t, StorageDriverFile, cfg.Storage.Driver)
				assert.Equal(t, "/tmp/render-history.json", cfg.Storage.File.Path)
				assert.Equal(t, 10, cfg.History.MaxSessions)
				assert.Equal(t, "https://api.kie.ai/api/v1", cfg.Render.BaseURL)
				assert.Equal(t, 100, cfg.Render.MaxPollAttempts)
				assert.Equal(t, "grok-2-vision", cfg.Prompter.Model)
				assert.Equal(t, "render_events", cfg.Events.RabbitMQ.Exchange.Name)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RENDER_TEST_API_KEY", "secret-from-env")
	t.Setenv("RENDER_TEST_REDIS_PASSWORD", "redis-secret")

	cfg, err := Load("testdata/env_secret.yaml")
	require.NoError(t, err)

	assert.Equal(t, "secret-from-env", cfg.Render.APIKey)
	assert.Equal(t, "redis-secret", cfg.Storage.Redis.Password)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			Storage: StorageConfig{
				Driver: StorageDriverFile,
				File:   FileConfig{Path: "/tmp/render-history.json"},
			},
			Render: RenderConfig{
				BaseURL: "https://api.kie.ai/api/v1",
				APIKey:  "key",
			},
			Prompter: PrompterConfig{
				BaseURL: "https://api.x.ai/v1",
			},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "file driver without path",
			mutate:    func(c *Config) { c.Storage.File.Path = "" },
			wantErr:   true,
			errString: "storage file path is required",
		},
		{
			name: "postgres driver without host",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverPostgres
				c.Storage.Postgres = PostgresConfig{Port: 5432, Database: "render_db"}
			},
			wantErr:   true,
			errString: "postgres host is required",
		},
		{
			name: "postgres driver without database",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverPostgres
				c.Storage.Postgres = PostgresConfig{Host: "localhost", Port: 5432}
			},
			wantErr:   true,
			errString: "postgres database name is required",
		},
		{
			name: "redis driver without addr",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverRedis
			},
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "unknown storage driver",
			mutate:    func(c *Config) { c.Storage.Driver = "etcd" },
			wantErr:   true,
			errString: "unknown storage driver",
		},
		{
			name:      "missing render base url",
			mutate:    func(c *Config) { c.Render.BaseURL = "" },
			wantErr:   true,
			errString: "render base_url is required",
		},
		{
			name:      "missing render api key",
			mutate:    func(c *Config) { c.Render.APIKey = "" },
			wantErr:   true,
			errString: "render api_key is required",
		},
		{
			name:      "negative poll attempts",
			mutate:    func(c *Config) { c.Render.MaxPollAttempts = -1 },
			wantErr:   true,
			errString: "max_poll_attempts must not be negative",
		},
		{
			name:      "missing prompter base url",
			mutate:    func(c *Config) { c.Prompter.BaseURL = "" },
			wantErr:   true,
			errString: "prompter base_url is required",
		},
		{
			name: "image host enabled without base url",
			mutate: func(c *Config) {
				c.ImageHost.Enabled = true
			},
			wantErr:   true,
			errString: "image_host base_url is required",
		},
		{
			name: "events enabled without rabbitmq host",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.RabbitMQ.Port = 5672
				c.Events.RabbitMQ.Exchange.Name = "render_events"
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "events enabled without exchange name",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.RabbitMQ.Host = "localhost"
				c.Events.RabbitMQ.Port = 5672
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing render key", func(t *testing.T) {
		cfg, err := Load("testdata/missing_render_key.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "render api_key is required")
	})
}

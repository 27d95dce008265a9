package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
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
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "chapterize", cfg.Database.Database)
				assert.True(t, cfg.RabbitMQ.Enabled)
				assert.Equal(t, "chapterize_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "chapterize_progress", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "chapterize-api", cfg.App.Name)
				assert.Equal(t, "https://transcriber.example.com", cfg.Services.TranscriberURL)
				assert.InDelta(t, 0.05, cfg.Pipeline.PricePerMinute, 1e-9)
				assert.Equal(t, 24*time.Hour, cfg.Pipeline.ChaptersMaxAge)
				assert.Equal(t, 12, cfg.Pipeline.TranscriptionPoll.MaxAttempts)
				assert.Equal(t, "user-1", cfg.Auth.DefaultUserID)
				assert.Equal(t, "/var/lib/chapterize/audio", cfg.Media.OutputDir)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Pipeline.SettleDelay)
	assert.Equal(t, 64, cfg.Pipeline.EventBuffer)
	assert.Equal(t, PollConfig{
		MaxAttempts:  10,
		InitialDelay: 3 * time.Second,
		Multiplier:   1.5,
		MaxDelay:     30 * time.Second,
	}, cfg.Pipeline.ChaptersPoll)
	assert.Equal(t, "/docs", cfg.Services.HealthPath)
	assert.Equal(t, "ffprobe", cfg.Media.FFProbeBinary)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CHAPTERIZE_TEST_DB_HOST", "db.internal")
	t.Setenv("CHAPTERIZE_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("CHAPTERIZE_TEST_REFRESH_TOKEN", "rt-env")

	cfg, err := Load("testdata/env_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "rt-env", cfg.Auth.RefreshToken)
	require.NoError(t, cfg.ValidateAPIConfig())
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.InDelta(t, 0.04, cfg.Pipeline.PricePerMinute, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.SettleDelay)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.ChaptersMaxAge)
	assert.Equal(t, 10, cfg.Pipeline.TranscriptionPoll.MaxAttempts)
	assert.Equal(t, AuthModeSupabase, cfg.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "progress-service", cfg.Progress.ConsumerTag)

	// explicit values survive
	cfg = &Config{Pipeline: PipelineConfig{PricePerMinute: 0.1, SettleDelay: time.Second}}
	cfg.ApplyDefaults()
	assert.InDelta(t, 0.1, cfg.Pipeline.PricePerMinute, 1e-9)
	assert.Equal(t, time.Second, cfg.Pipeline.SettleDelay)
}

func validAPIConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "chapterize",
		},
		Services: ServicesConfig{
			TranscriberURL: "https://transcriber.example.com",
			ChaptersURL:    "https://chapters.example.com",
		},
		Auth: AuthConfig{
			Mode:         AuthModeSupabase,
			SupabaseURL:  "https://project.supabase.co",
			RefreshToken: "rt",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
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
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "missing transcriber url",
			mutate:    func(c *Config) { c.Services.TranscriberURL = "" },
			wantErr:   true,
			errString: "services.transcriber_url is required",
		},
		{
			name:      "chapters url without scheme",
			mutate:    func(c *Config) { c.Services.ChaptersURL = "chapters.example.com" },
			wantErr:   true,
			errString: "scheme must be http or https",
		},
		{
			name:      "negative chapters max age",
			mutate:    func(c *Config) { c.Pipeline.ChaptersMaxAge = -time.Hour },
			wantErr:   true,
			errString: "chapters_max_age",
		},
		{
			name: "poll max delay below initial delay",
			mutate: func(c *Config) {
				c.Pipeline.ChaptersPoll.InitialDelay = time.Minute
				c.Pipeline.ChaptersPoll.MaxDelay = time.Second
			},
			wantErr:   true,
			errString: "chapters_poll max_delay",
		},
		{
			name:      "supabase mode without refresh token",
			mutate:    func(c *Config) { c.Auth.RefreshToken = "" },
			wantErr:   true,
			errString: "refresh_token is required",
		},
		{
			name: "static mode with token",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: AuthModeStatic, StaticToken: "tok", DefaultUserID: "svc"}
			},
		},
		{
			name: "static mode without user",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: AuthModeStatic, StaticToken: "tok"}
			},
			wantErr:   true,
			errString: "default_user_id is required",
		},
		{
			name:      "unknown auth mode",
			mutate:    func(c *Config) { c.Auth.Mode = "oauth" },
			wantErr:   true,
			errString: "invalid auth mode",
		},
		{
			name: "rabbitmq enabled without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Host: "localhost", Port: 5672, Queue: QueueConfig{Name: "q"}}
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq disabled is not validated",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateProgressConfig(t *testing.T) {
	t.Run("load and validate progress config", func(t *testing.T) {
		cfg, err := Load("testdata/progress_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateProgressConfig())
	})

	t.Run("missing prefetch", func(t *testing.T) {
		cfg, err := Load("testdata/progress_config.yaml")
		require.NoError(t, err)
		cfg.RabbitMQ.Consumer.PrefetchCount = 0

		err = cfg.ValidateProgressConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prefetch_count")
	})

	t.Run("missing queue", func(t *testing.T) {
		cfg, err := Load("testdata/progress_config.yaml")
		require.NoError(t, err)
		cfg.RabbitMQ.Queue.Name = ""

		err = cfg.ValidateProgressConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq queue name is required")
	})
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestServicesConfig_List(t *testing.T) {
	s := ServicesConfig{TranscriberURL: "https://t", ChaptersURL: "https://c"}
	assert.Equal(t, []domain.Service{
		{Name: "transcriber", Endpoint: "https://t"},
		{Name: "chapters", Endpoint: "https://c"},
	}, s.List())
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}

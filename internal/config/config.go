package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StorageMemory = "memory"
	StorageS3     = "s3"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	S3      S3Config
	App     AppConfig
}

type ServerConfig struct {
	Host         string        `validate:"required"`
	Port         string        `validate:"required,numeric"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
}

type BackendConfig struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string `validate:"required_if=Enabled true"`
	Region          string
	Enabled         bool
}

type AppConfig struct {
	MaxUploadSize   int64         `validate:"gt=0"`
	DownloadStagger time.Duration `validate:"gte=0"`
	SessionTTL      time.Duration `validate:"gt=0"`
	StorageBackend  string        `validate:"oneof=memory s3"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	SessionCookie   string        `validate:"required"`
	SweepDebounce   time.Duration `validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_PORT", "3000")
	v.SetDefault("SERVER_READ_TIMEOUT", 15*time.Second)
	// /process может идти до 30s, плюс запас на отдачу ответа
	v.SetDefault("SERVER_WRITE_TIMEOUT", 45*time.Second)
	v.SetDefault("BACKEND_URL", "http://localhost:8000")
	v.SetDefault("BACKEND_TIMEOUT", 30*time.Second)
	v.SetDefault("S3_ENDPOINT", "http://localhost:9000")
	v.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("S3_BUCKET_NAME", "phasesim-previews")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("APP_DOWNLOAD_STAGGER", 500*time.Millisecond)
	v.SetDefault("APP_SESSION_TTL", 30*time.Minute)
	v.SetDefault("APP_SESSION_COOKIE", "phasesim_session")
	v.SetDefault("APP_SWEEP_DEBOUNCE", 300*time.Millisecond)
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("STORAGE_BACKEND", StorageMemory)
}

func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	storage := v.GetString("STORAGE_BACKEND")

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetString("SERVER_PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		Backend: BackendConfig{
			URL:     v.GetString("BACKEND_URL"),
			Timeout: v.GetDuration("BACKEND_TIMEOUT"),
		},
		S3: S3Config{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			UseSSL:          v.GetBool("S3_USE_SSL"),
			BucketName:      v.GetString("S3_BUCKET_NAME"),
			Region:          v.GetString("S3_REGION"),
			Enabled:         storage == StorageS3,
		},
		App: AppConfig{
			MaxUploadSize:   v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			DownloadStagger: v.GetDuration("APP_DOWNLOAD_STAGGER"),
			SessionTTL:      v.GetDuration("APP_SESSION_TTL"),
			SessionCookie:   v.GetString("APP_SESSION_COOKIE"),
			SweepDebounce:   v.GetDuration("APP_SWEEP_DEBOUNCE"),
			StorageBackend:  storage,
			LogLevel:        v.GetString("APP_LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	S3        S3Config        `mapstructure:"s3"`
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	FrontendURL string `mapstructure:"frontend_url"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "mongo" or "memory"
	URI    string `mapstructure:"uri"`
	Name   string `mapstructure:"name"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type UploadConfig struct {
	Dir              string   `mapstructure:"dir"`
	MaxBytes         int64    `mapstructure:"max_bytes"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
}

// PipelineConfig tunes the background processing jobs.
type PipelineConfig struct {
	StepDelay       time.Duration `mapstructure:"step_delay"`
	FlagProbability float64       `mapstructure:"flag_probability"`
	MaxConcurrent   int64         `mapstructure:"max_concurrent"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type RealtimeConfig struct {
	RequireAuth  bool          `mapstructure:"require_auth"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether object storage archiving is configured.
func (c S3Config) Enabled() bool {
	return c.BucketName != ""
}

// LoadConfig reads configuration from file or environment variables.
//
// Before Viper runs, .env.production (APP_ENV=production) or .env.development
// is loaded from path into the process environment; a missing file is ignored.
func LoadConfig(path string) (config Config, err error) {
	loadDotEnv(path)

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS, jwt.secret -> JWT_SECRET
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil // rely on defaults and env vars
	} else if err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.frontend_url", "")
	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "video_app")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration", "720h")
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.max_bytes", 100*1024*1024)
	v.SetDefault("upload.allowed_mime_types", []string{"video/mp4", "video/mpeg", "video/quicktime", "video/x-msvideo"})
	v.SetDefault("pipeline.step_delay", "2s")
	v.SetDefault("pipeline.flag_probability", 0.2)
	v.SetDefault("pipeline.max_concurrent", 8)
	v.SetDefault("pipeline.stale_after", "10m")
	v.SetDefault("pipeline.sweep_interval", "1m")
	v.SetDefault("realtime.require_auth", false)
	v.SetDefault("realtime.send_buffer", 16)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.limit", 20)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "videos.events")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.use_ssl", true)
}

func loadDotEnv(path string) {
	name := ".env.development"
	if os.Getenv("APP_ENV") == "production" {
		name = ".env.production"
	}
	// Existing environment variables win over the file.
	_ = godotenv.Load(strings.TrimRight(path, "/") + "/" + name)
}

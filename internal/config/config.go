package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env-default:"30m"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type RealtimeConfig struct {
	SendBufferSize   int           `yaml:"send_buffer_size" env-default:"64"`
	OfflineQueueSize int           `yaml:"offline_queue_size" env-default:"50"`
	StaleAfter       time.Duration `yaml:"stale_after" env-default:"5m"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env-default:"1m"`
	MessageRate      float64       `yaml:"message_rate" env-default:"50"`
	MessageBurst     int           `yaml:"message_burst" env-default:"100"`
}

// DependencyConfig tunes the breaker, retry and timeout for one
// protected dependency class. Classes never share an instance.
type DependencyConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Timeout          time.Duration `yaml:"timeout"`
}

type ResilienceConfig struct {
	Database DependencyConfig `yaml:"database"`
	API      DependencyConfig `yaml:"api"`
	External DependencyConfig `yaml:"external"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret-change-me"
	}

	c.Resilience.Database.applyDefaults(DependencyConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Timeout:          30 * time.Second,
	})
	c.Resilience.API.applyDefaults(DependencyConfig{
		FailureThreshold: 10,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		MaxRetries:       2,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Timeout:          10 * time.Second,
	})
	c.Resilience.External.applyDefaults(DependencyConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  120 * time.Second,
		SuccessThreshold: 3,
		MaxRetries:       3,
		BaseDelay:        2 * time.Second,
		MaxDelay:         60 * time.Second,
		Timeout:          20 * time.Second,
	})
}

func (d *DependencyConfig) applyDefaults(def DependencyConfig) {
	if d.FailureThreshold <= 0 {
		d.FailureThreshold = def.FailureThreshold
	}
	if d.RecoveryTimeout <= 0 {
		d.RecoveryTimeout = def.RecoveryTimeout
	}
	if d.SuccessThreshold <= 0 {
		d.SuccessThreshold = def.SuccessThreshold
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = def.MaxRetries
	}
	if d.BaseDelay <= 0 {
		d.BaseDelay = def.BaseDelay
	}
	if d.MaxDelay <= 0 {
		d.MaxDelay = def.MaxDelay
	}
	if d.Timeout <= 0 {
		d.Timeout = def.Timeout
	}
}

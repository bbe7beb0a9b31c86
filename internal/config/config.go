// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"genforge/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SubmitPerMinute int           `yaml:"submit_per_minute"` // per owner
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	AdminAPIKey string `yaml:"admin_api_key"`
}

type StorageConfig struct {
	Backend       string   `yaml:"backend"` // local | s3
	LocalDir      string   `yaml:"local_dir"`
	PublicBaseURL string   `yaml:"public_base_url"`
	OwnedPrefixes []string `yaml:"owned_prefixes"`
	S3            struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"s3"`
	MaxAssetBytes int64 `yaml:"max_asset_bytes"`
}

type VendorConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	ConcurrentLimit int           `yaml:"concurrent_limit"`
}

type ProvidersConfig struct {
	FixedFrameVideo VendorConfig `yaml:"fixed_frame_video"`
	ChatCompletion  VendorConfig `yaml:"chat_completion"`
	ResolutionVideo VendorConfig `yaml:"resolution_video"`
	Veo             VendorConfig `yaml:"veo"`
	NoopPolls       int          `yaml:"noop_polls"`
}

type ModelConfig struct {
	Key             string             `yaml:"key"`
	Provider        string             `yaml:"provider"`
	VendorModel     string             `yaml:"vendor_model"`
	Media           string             `yaml:"media"`
	MaxUnits        int                `yaml:"max_units"`
	MaxPollAttempts int                `yaml:"max_poll_attempts"`
	Pricing         *model.PricingRule `yaml:"pricing"`
}

type PipelineConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollLockTTL      time.Duration `yaml:"poll_lock_ttl"`
	SubmitAttempts   int           `yaml:"submit_attempts"`
	SubmitRetryDelay time.Duration `yaml:"submit_retry_delay"`
	TransferAttempts int           `yaml:"transfer_attempts"`
	TransferBase     time.Duration `yaml:"transfer_base_delay"`
	TransferMaxDelay time.Duration `yaml:"transfer_max_delay"`
	TransferParallel int           `yaml:"transfer_parallel"`
}

type CompensationConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ValidityWindow time.Duration `yaml:"validity_window"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
}

type LedgerConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type RecoveryConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`

	// Heartbeat is how often a running pipeline refreshes its claim so
	// recovery does not treat it as stale. Must be below StaleAfter.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Storage      StorageConfig      `yaml:"storage"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Models       []ModelConfig      `yaml:"models"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Compensation CompensationConfig `yaml:"compensation"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Recovery     RecoveryConfig     `yaml:"recovery"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads .env (if present), the YAML file at path, applies env
// overrides for secrets, then defaults and minimal validation.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse builds a Config from raw YAML. Split from LoadConfig for tests.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one model must be configured")
	}
	for i, m := range cfg.Models {
		if m.Key == "" {
			return nil, fmt.Errorf("models[%d].key is required", i)
		}
		if _, err := model.ParseProviderKind(m.Provider); err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Redis.URL, "REDIS_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
	set(&cfg.Auth.AdminAPIKey, "ADMIN_API_KEY")
	set(&cfg.Providers.FixedFrameVideo.APIKey, "FIXED_FRAME_API_KEY")
	set(&cfg.Providers.ChatCompletion.APIKey, "CHAT_COMPLETION_API_KEY")
	set(&cfg.Providers.ResolutionVideo.APIKey, "RESOLUTION_VIDEO_API_KEY")
	set(&cfg.Providers.Veo.APIKey, "VEO_API_KEY")
	set(&cfg.Storage.S3.AccessKey, "S3_ACCESS_KEY")
	set(&cfg.Storage.S3.SecretKey, "S3_SECRET_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.SubmitPerMinute <= 0 {
		cfg.Server.SubmitPerMinute = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./data/assets"
	}
	if len(cfg.Storage.OwnedPrefixes) == 0 && cfg.Storage.PublicBaseURL != "" {
		cfg.Storage.OwnedPrefixes = []string{cfg.Storage.PublicBaseURL}
	}
	if cfg.Storage.MaxAssetBytes <= 0 {
		cfg.Storage.MaxAssetBytes = 512 << 20
	}
	if cfg.Providers.NoopPolls <= 0 {
		cfg.Providers.NoopPolls = 3
	}

	p := &cfg.Pipeline
	if p.Workers <= 0 {
		p.Workers = 8
	}
	if p.QueueSize <= 0 {
		p.QueueSize = p.Workers * 16
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 5 * time.Second
	}
	if p.PollLockTTL <= 0 {
		p.PollLockTTL = time.Minute
	}
	if p.SubmitAttempts <= 0 {
		p.SubmitAttempts = 3
	}
	if p.SubmitRetryDelay <= 0 {
		p.SubmitRetryDelay = 2 * time.Second
	}
	if p.TransferAttempts <= 0 {
		p.TransferAttempts = 3
	}
	if p.TransferBase <= 0 {
		p.TransferBase = 500 * time.Millisecond
	}
	if p.TransferMaxDelay <= 0 {
		p.TransferMaxDelay = 4 * time.Second
	}
	if p.TransferParallel <= 0 {
		p.TransferParallel = 4
	}

	c := &cfg.Compensation
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ValidityWindow <= 0 {
		c.ValidityWindow = 72 * time.Hour
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}

	if cfg.Ledger.LockTimeout <= 0 {
		cfg.Ledger.LockTimeout = 5 * time.Second
	}
	if cfg.Recovery.StaleAfter <= 0 {
		cfg.Recovery.StaleAfter = 10 * time.Minute
	}
	if cfg.Recovery.Heartbeat <= 0 || cfg.Recovery.Heartbeat >= cfg.Recovery.StaleAfter {
		cfg.Recovery.Heartbeat = cfg.Recovery.StaleAfter / 4
	}
	if cfg.Recovery.BatchSize <= 0 {
		cfg.Recovery.BatchSize = 200
	}
	for i := range cfg.Models {
		cfg.Models[i].Key = strings.TrimSpace(cfg.Models[i].Key)
		if cfg.Models[i].MaxUnits <= 0 {
			cfg.Models[i].MaxUnits = 1
		}
	}
}

// Catalog converts configured models into domain specs keyed by model key.
func (c *Config) Catalog() map[string]model.ModelSpec {
	out := make(map[string]model.ModelSpec, len(c.Models))
	for _, m := range c.Models {
		kind, _ := model.ParseProviderKind(m.Provider)
		media := model.MediaImage
		if strings.EqualFold(m.Media, string(model.MediaVideo)) {
			media = model.MediaVideo
		}
		out[m.Key] = model.ModelSpec{
			Key:             m.Key,
			Provider:        kind,
			VendorModel:     m.VendorModel,
			Media:           media,
			MaxUnits:        m.MaxUnits,
			MaxPollAttempts: m.MaxPollAttempts,
		}
	}
	return out
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

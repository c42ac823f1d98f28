package engine

import (
	"io"

	"github.com/argus-labs/vertex/pkg/snapshot"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// engineConfig holds the configuration for an Engine instance.
// Configuration can be set via environment variables with the specified defaults.
type engineConfig struct {
	// Number of frames per second Run ticks at.
	TickRate float64 `env:"VERTEX_TICK_RATE" envDefault:"60"`

	// Snapshot storage backend (NOP, MEMORY, REDIS).
	SnapshotStorage string `env:"VERTEX_SNAPSHOT_STORAGE" envDefault:"NOP"`

	// Redis connection, used by the REDIS snapshot storage.
	RedisAddr     string `env:"VERTEX_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"VERTEX_REDIS_PASSWORD"`
	RedisDB       int    `env:"VERTEX_REDIS_DB" envDefault:"0"`

	// Key the scene snapshot is stored under.
	SnapshotKey string `env:"VERTEX_SNAPSHOT_KEY" envDefault:"vertex:scene"`
}

// loadEngineConfig loads the engine configuration from environment variables.
func loadEngineConfig() (engineConfig, error) {
	cfg := engineConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *engineConfig) validate() error {
	if cfg.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if _, err := snapshot.ParseStorageType(cfg.SnapshotStorage); err != nil {
		return err
	}
	if cfg.RedisDB < 0 {
		return eris.New("redis db cannot be negative")
	}
	if cfg.SnapshotKey == "" {
		return eris.New("snapshot key cannot be empty")
	}
	return nil
}

// applyToOptions applies the configuration values to the given Options.
func (cfg *engineConfig) applyToOptions(opt *Options) {
	opt.TickRate = cfg.TickRate
	opt.SnapshotStorageType, _ = snapshot.ParseStorageType(cfg.SnapshotStorage)
	opt.Redis = snapshot.RedisStorageOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.SnapshotKey,
	}
}

type Options struct {
	TickRate            float64                      // Number of frames per second
	SnapshotStorageType snapshot.StorageType         // Snapshot storage type
	Redis               snapshot.RedisStorageOptions // Used when SnapshotStorageType is REDIS
	SnapshotStorage     snapshot.Storage             // Optional, overrides SnapshotStorageType
	LogOutput           io.Writer                    // Optional, defaults to stdout
}

// newDefaultOptions creates Options with default values.
func newDefaultOptions() Options {
	// Set these to invalid values to force users to pass in the correct options.
	return Options{
		TickRate:            0,
		SnapshotStorageType: snapshot.StorageTypeNop, // Default to nop snapshot
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.TickRate != 0.0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.SnapshotStorageType != snapshot.StorageTypeUndefined {
		opt.SnapshotStorageType = newOpt.SnapshotStorageType
	}
	if newOpt.Redis.Addr != "" {
		opt.Redis.Addr = newOpt.Redis.Addr
	}
	if newOpt.Redis.Password != "" {
		opt.Redis.Password = newOpt.Redis.Password
	}
	if newOpt.Redis.DB != 0 {
		opt.Redis.DB = newOpt.Redis.DB
	}
	if newOpt.Redis.Key != "" {
		opt.Redis.Key = newOpt.Redis.Key
	}
	if newOpt.SnapshotStorage != nil {
		opt.SnapshotStorage = newOpt.SnapshotStorage
	}
	if newOpt.LogOutput != nil {
		opt.LogOutput = newOpt.LogOutput
	}
}

// validate checks that all required options are set and valid.
func (opt *Options) validate() error {
	if opt.TickRate <= 0.0 {
		return eris.New("tick rate must be positive")
	}
	if !opt.SnapshotStorageType.IsValid() {
		return eris.New("invalid snapshot storage type")
	}
	if opt.SnapshotStorageType == snapshot.StorageTypeRedis && opt.SnapshotStorage == nil {
		if err := opt.Redis.Validate(); err != nil {
			return eris.Wrap(err, "invalid redis options")
		}
	}
	return nil
}

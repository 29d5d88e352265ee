package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Data       DataConfig       `toml:"data" yaml:"data"`
	Database   DatabaseConfig   `toml:"database" yaml:"database"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Checkpoint CheckpointConfig `toml:"checkpoint" yaml:"checkpoint"`
	Workers    WorkersConfig    `toml:"workers" yaml:"workers"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
}

// DataConfig is the option namespace read by the data module. It is never
// modified once loaders are being built.
type DataConfig struct {
	ManifestDir           string `toml:"manifest_dir" yaml:"manifest_dir"`
	MaxDuration           int    `toml:"max_duration" yaml:"max_duration"`
	BucketingSampler      bool   `toml:"bucketing_sampler" yaml:"bucketing_sampler"`
	NumBuckets            int    `toml:"num_buckets" yaml:"num_buckets"`
	Shuffle               bool   `toml:"shuffle" yaml:"shuffle"`
	DropLast              bool   `toml:"drop_last" yaml:"drop_last"`
	ReturnCuts            bool   `toml:"return_cuts" yaml:"return_cuts"`
	NumWorkers            int    `toml:"num_workers" yaml:"num_workers"`
	EnableSpecAug         bool   `toml:"enable_spec_aug" yaml:"enable_spec_aug"`
	SpecAugTimeWarpFactor int    `toml:"spec_aug_time_warp_factor" yaml:"spec_aug_time_warp_factor"`
	EnableGaussianNoise   bool   `toml:"enable_gaussian_noise" yaml:"enable_gaussian_noise"`
	InputStrategy         string `toml:"input_strategy" yaml:"input_strategy"`
	Subset                string `toml:"subset" yaml:"subset"`
	SmallDev              bool   `toml:"small_dev" yaml:"small_dev"`
}

// DatabaseConfig selects where sampler states and manifest stats are kept.
// An empty Driver disables the database.
type DatabaseConfig struct {
	Driver   string `toml:"driver" yaml:"driver"`
	DSN      string `toml:"dsn" yaml:"dsn"`
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Name     string `toml:"name" yaml:"name"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type CheckpointConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	Dir     string `toml:"dir" yaml:"dir"`
}

type WorkersConfig struct {
	Count int `toml:"count" yaml:"count"`
}

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Data: DataConfig{
			ManifestDir:           "data/fbank",
			MaxDuration:           1000,
			BucketingSampler:      true,
			NumBuckets:            30,
			Shuffle:               true,
			DropLast:              true,
			ReturnCuts:            true,
			NumWorkers:            2,
			EnableSpecAug:         true,
			SpecAugTimeWarpFactor: 80,
			EnableGaussianNoise:   true,
			InputStrategy:         "AudioSamples",
			Subset:                "M",
			SmallDev:              false,
		},
		Database: DatabaseConfig{
			Host: "127.0.0.1",
			Port: 3306,
			User: "root",
			Name: "asr_data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     "exp/sampler",
		},
		Workers: WorkersConfig{
			Count: 4,
		},
		Server: ServerConfig{
			Addr: ":8082",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML or YAML file,
// and the environment (after loading envFile, if it exists). Command line
// flags are applied on top by the caller.
func Load(envFile, configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(c)
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	d := &c.Data
	d.ManifestDir = getEnv("DATA_MANIFEST_DIR", d.ManifestDir)
	d.MaxDuration = getEnvInt("DATA_MAX_DURATION", d.MaxDuration)
	d.BucketingSampler = getEnvBool("DATA_BUCKETING_SAMPLER", d.BucketingSampler)
	d.NumBuckets = getEnvInt("DATA_NUM_BUCKETS", d.NumBuckets)
	d.Shuffle = getEnvBool("DATA_SHUFFLE", d.Shuffle)
	d.DropLast = getEnvBool("DATA_DROP_LAST", d.DropLast)
	d.ReturnCuts = getEnvBool("DATA_RETURN_CUTS", d.ReturnCuts)
	d.NumWorkers = getEnvInt("DATA_NUM_WORKERS", d.NumWorkers)
	d.EnableSpecAug = getEnvBool("DATA_ENABLE_SPEC_AUG", d.EnableSpecAug)
	d.SpecAugTimeWarpFactor = getEnvInt("DATA_SPEC_AUG_TIME_WARP_FACTOR", d.SpecAugTimeWarpFactor)
	d.EnableGaussianNoise = getEnvBool("DATA_ENABLE_GAUSSIAN_NOISE", d.EnableGaussianNoise)
	d.InputStrategy = getEnv("DATA_INPUT_STRATEGY", d.InputStrategy)
	d.Subset = getEnv("DATA_SUBSET", d.Subset)
	d.SmallDev = getEnvBool("DATA_SMALL_DEV", d.SmallDev)

	db := &c.Database
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.DSN = getEnv("DB_DSN", db.DSN)
	db.Host = getEnv("DB_HOST", db.Host)
	db.Port = getEnvInt("DB_PORT", db.Port)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.Name = getEnv("DB_NAME", db.Name)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Checkpoint.Backend = getEnv("CHECKPOINT_BACKEND", c.Checkpoint.Backend)
	c.Checkpoint.Dir = getEnv("CHECKPOINT_DIR", c.Checkpoint.Dir)

	c.Workers.Count = getEnvInt("COUNT_WORKERS", c.Workers.Count)

	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
}

// DataSourceName returns the driver specific connection string.
func (d DatabaseConfig) DataSourceName() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name + ".db"
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

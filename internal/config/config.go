package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IMON"

type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Client  ClientConfig  `mapstructure:"client"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServiceConfig struct {
	Addr         string        `mapstructure:"addr"`
	DBPath       string        `mapstructure:"db_path"`
	PoolSize     int           `mapstructure:"pool_size"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

type ClientConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	UserKey    string        `mapstructure:"user_key"`
	CachePath  string        `mapstructure:"cache_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Default returns the configuration used when no file or environment
// overrides exist. Paths are placed next to the config file at path.
func Default(path string) Config {
	dir := filepath.Dir(path)
	return Config{
		Service: ServiceConfig{
			Addr:         ":8000",
			DBPath:       filepath.Join(dir, "imon.db"),
			PoolSize:     4,
			StoreTimeout: 3 * time.Second,
		},
		Client: ClientConfig{
			ServiceURL: "http://localhost:8000",
			CachePath:  filepath.Join(dir, "last-task.json"),
			Timeout:    10 * time.Second,
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "imon", "config.yaml"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error. IMON_* environment variables override both, e.g.
// IMON_SERVICE_ADDR or IMON_CLIENT_USER_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default(path))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	for key, value := range flatten(cfg) {
		v.SetDefault(key, value)
	}
}

// flatten lists every setting under its dotted viper key.
func flatten(cfg Config) map[string]any {
	return map[string]any{
		"service.addr":          cfg.Service.Addr,
		"service.db_path":       cfg.Service.DBPath,
		"service.pool_size":     cfg.Service.PoolSize,
		"service.store_timeout": cfg.Service.StoreTimeout,
		"client.service_url":    cfg.Client.ServiceURL,
		"client.user_key":       cfg.Client.UserKey,
		"client.cache_path":     cfg.Client.CachePath,
		"client.timeout":        cfg.Client.Timeout,
		"log.format":            cfg.Log.Format,
		"log.level":             cfg.Log.Level,
	}
}

type fileConfig struct {
	Service struct {
		Addr         string `yaml:"addr"`
		DBPath       string `yaml:"db_path"`
		PoolSize     int    `yaml:"pool_size"`
		StoreTimeout string `yaml:"store_timeout"`
	} `yaml:"service"`
	Client struct {
		ServiceURL string `yaml:"service_url"`
		UserKey    string `yaml:"user_key,omitempty"`
		CachePath  string `yaml:"cache_path"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"client"`
	Log struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

// Marshal renders cfg as YAML with durations written like "3s".
func Marshal(cfg Config) ([]byte, error) {
	var out fileConfig
	out.Service.Addr = cfg.Service.Addr
	out.Service.DBPath = cfg.Service.DBPath
	out.Service.PoolSize = cfg.Service.PoolSize
	out.Service.StoreTimeout = cfg.Service.StoreTimeout.String()
	out.Client.ServiceURL = cfg.Client.ServiceURL
	out.Client.UserKey = cfg.Client.UserKey
	out.Client.CachePath = cfg.Client.CachePath
	out.Client.Timeout = cfg.Client.Timeout.String()
	out.Log.Format = cfg.Log.Format
	out.Log.Level = cfg.Log.Level
	return yaml.Marshal(out)
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Content struct {
		TTL      string `yaml:"ttl"`
		DeckSize int    `yaml:"deck_size"`
	} `yaml:"content"`
	Session struct {
		RapidFireTimeLimit  string `yaml:"rapid_fire_time_limit"`
		CodeBattleTimeLimit string `yaml:"code_battle_time_limit"`
		TickInterval        string `yaml:"tick_interval"`
		SnapshotInterval    string `yaml:"snapshot_interval"`
		TimeoutGrace        string `yaml:"timeout_grace"`
		IOTimeout           string `yaml:"io_timeout"`
		CodeScoring         string `yaml:"code_scoring"`
	} `yaml:"session"`
	Rating struct {
		KFactor    int `yaml:"k_factor"`
		Initial    int `yaml:"initial"`
		Floor      int `yaml:"floor"`
		FormLength int `yaml:"form_length"`
	} `yaml:"rating"`
}

// Load reads YAML config from path, expanding ${VAR} references from the environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a config usable without a file: in-memory stores and sample content.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "session-results"
	}
	if c.Content.DeckSize == 0 {
		c.Content.DeckSize = 10
	}
	if c.Session.CodeScoring == "" {
		c.Session.CodeScoring = "ratio"
	}
	if c.Rating.KFactor == 0 {
		c.Rating.KFactor = 32
	}
	if c.Rating.Initial == 0 {
		c.Rating.Initial = 1200
	}
	if c.Rating.Floor == 0 {
		c.Rating.Floor = 100
	}
	if c.Rating.FormLength == 0 {
		c.Rating.FormLength = 10
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

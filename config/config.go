package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr string `yaml:"addr"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // call-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Call struct {
	MaxPerRoom  int    `yaml:"maxPerRoom"`  // default breakout size
	GraceDelay  string `yaml:"graceDelay"`  // countdown before breakouts dissolve
	ClearBuffer string `yaml:"clearBuffer"` // extra wait before clearing partition keys
	ReactionTTL string `yaml:"reactionTTL"` // how long a reaction stays on screen
	Tick        string `yaml:"tick"`        // countdown re-check interval
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Call     Call     `yaml:"call"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	// defaults for anything not set
	if c.Logging.Service == "" {
		c.Logging.Service = "call-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Call.MaxPerRoom <= 0 {
		c.Call.MaxPerRoom = 4
	}
	return nil
}

// GraceDelayDur and friends parse the duration fields with sane fallbacks.
func (c *Call) GraceDelayDur() time.Duration  { return parseDurationOr(5*time.Second, c.GraceDelay) }
func (c *Call) ClearBufferDur() time.Duration { return parseDurationOr(2*time.Second, c.ClearBuffer) }
func (c *Call) ReactionTTLDur() time.Duration {
	return parseDurationOr(2500*time.Millisecond, c.ReactionTTL)
}
func (c *Call) TickDur() time.Duration { return parseDurationOr(time.Second, c.Tick) }

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

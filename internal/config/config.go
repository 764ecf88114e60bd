package config

import (
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Log struct {
	Level  string
	Format string
}

type Cache struct {
	// Backend selects where responses are stored: "memory" or "disk".
	Backend string
	// Path is the on-disk location of the cache, used by the disk backend only.
	Path string
	// TTL is the validity window of a cached response.
	TTL Duration
	// MaxEntries bounds the memory backend.
	MaxEntries int64 `yaml:"max_entries"`
}

type Transport struct {
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	MaxRedirects   int      `yaml:"max_redirects"`
}

type Retry struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64
	Jitter         float64
}

type RateLimit struct {
	// RequestsPerSecond caps outbound dispatches. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int
}

type Config struct {
	Log       Log
	Cache     Cache
	Transport Transport
	Retry     Retry
	RateLimit RateLimit `yaml:"rate_limit"`
}

func getBaseConfig() *Config {
	return &Config{
		Log: Log{zerolog.LevelInfoValue, "json"},
		Cache: Cache{
			Backend:    "memory",
			Path:       "_cache/",
			TTL:        Minutes(5),
			MaxEntries: 10000,
		},
		Transport: Transport{
			AttemptTimeout: Seconds(30),
			MaxRedirects:   5,
		},
		Retry: Retry{
			InitialBackoff: Milliseconds(100),
			MaxBackoff:     Seconds(10),
			Multiplier:     2.0,
			Jitter:         0.1,
		},
		RateLimit: RateLimit{},
	}
}

func Parse(configPath string, lookupEnv func(string) (string, bool)) (*Config, error) {
	c := getBaseConfig()

	fp, err := os.Open(configPath) //nolint:gosec
	if err != nil {
		return c, err
	}

	decoder := yaml.NewDecoder(fp)
	decoder.KnownFields(true)
	err = decoder.Decode(&c)

	applyOverrides(c, lookupEnv)
	return c, err
}

func Default(lookupEnv func(string) (string, bool)) *Config {
	conf := getBaseConfig()
	applyOverrides(conf, lookupEnv)
	return conf
}

func applyOverrides(conf *Config, lookupEnv func(string) (string, bool)) {
	if val, ok := lookupEnv("HTTPSEND_LOG_LEVEL"); ok {
		conf.Log.Level = val
	}

	if val, ok := lookupEnv("HTTPSEND_LOG_FORMAT"); ok {
		conf.Log.Format = val
	}

	if val, ok := lookupEnv("HTTPSEND_CACHE_BACKEND"); ok {
		conf.Cache.Backend = val
	}

	if val, ok := lookupEnv("HTTPSEND_CACHE_PATH"); ok {
		conf.Cache.Path = val
	}
}

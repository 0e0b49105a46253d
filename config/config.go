package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v3"
)

// DefaultSearchURL is the search results page the extractor targets.
const DefaultSearchURL = "https://www.flipkart.com/search?q=iphone+13&sid=tyy%2C4io&as=on&as-show=on&otracker=AS_QueryStore_OrganicAutoSuggest_1_3_na_na_na&otracker1=AS_QueryStore_OrganicAutoSuggest_1_3_na_na_na&as-pos=1&as-type=RECENT&suggestionId=iphone+13%7CMobiles&requestId=dc4bfcff-051b-479f-81c5-c53672f43f6f&as-searchtext=iph"

// Config holds scraper configuration.
type Config struct {
	SearchURL         string        `yaml:"searchURL" envconfig:"SCRAPER_URL"`
	LinkPrefix        string        `yaml:"linkPrefix" envconfig:"SCRAPER_LINK_PREFIX"`
	Limit             int           `yaml:"limit" envconfig:"SCRAPER_LIMIT"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"SCRAPER_TIMEOUT"`
	UserAgent         string        `yaml:"userAgent" envconfig:"SCRAPER_USER_AGENT"`
	OutputFile        string        `yaml:"output" envconfig:"SCRAPER_OUTPUT"`
	OutputFormat      string        `yaml:"format" envconfig:"SCRAPER_FORMAT"` // csv, json, or dual
	AlignPolicy       string        `yaml:"align" envconfig:"SCRAPER_ALIGN"`   // truncate, pad, or strict
	InputFile         string        `yaml:"input" envconfig:"SCRAPER_INPUT"`
	Verbose           bool          `yaml:"verbose" envconfig:"SCRAPER_VERBOSE"`
	RespectRobotsTxt  bool          `yaml:"respectRobots" envconfig:"SCRAPER_RESPECT_ROBOTS"`
	MetricsAddr       string        `yaml:"metricsAddr" envconfig:"SCRAPER_METRICS_ADDR"`
	SelectorCacheSize int           `yaml:"selectorCacheSize" envconfig:"SCRAPER_SELECTOR_CACHE_SIZE"`
}

// DefaultConfig returns the settings of the original one-page run.
func DefaultConfig() *Config {
	return &Config{
		SearchURL:         DefaultSearchURL,
		LinkPrefix:        "https://www.flipkart.com/",
		Limit:             5,
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFile:        "mobiles_data.csv",
		OutputFormat:      "csv",
		AlignPolicy:       "truncate",
		SelectorCacheSize: 64,
	}
}

// LoadFile overlays values from a YAML file onto c. Keys absent from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv reads an optional .env file and applies SCRAPER_* overrides.
// Variables that are not set leave the field untouched.
func (c *Config) LoadEnv(dotenvPaths ...string) error {
	if err := godotenv.Load(dotenvPaths...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		if c.SearchURL == "" {
			return fmt.Errorf("search URL cannot be empty")
		}
		parsedURL, err := url.Parse(c.SearchURL)
		if err != nil {
			return fmt.Errorf("invalid search URL: %w", err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("search URL must include a host")
		}
	}

	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	switch c.AlignPolicy {
	case "truncate", "pad", "strict":
	default:
		return fmt.Errorf("align policy must be truncate, pad, or strict")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SelectorCacheSize <= 0 {
		return fmt.Errorf("selector cache size must be positive")
	}

	return nil
}

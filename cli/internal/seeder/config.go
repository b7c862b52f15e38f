package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config controls how much traffic the seeder generates and where it goes.
type Config struct {
	ServerURL string        `mapstructure:"server_url" yaml:"server_url"`
	Sites     []string      `mapstructure:"sites" yaml:"sites"`
	Count     int           `mapstructure:"count" yaml:"count"`
	Visitors  int           `mapstructure:"visitors" yaml:"visitors"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Workers   int           `mapstructure:"workers" yaml:"workers"`
	BotRatio  float64       `mapstructure:"bot_ratio" yaml:"bot_ratio"`
	Seed      int64         `mapstructure:"seed" yaml:"seed"`
	// Mix weights event types; missing types are never generated.
	Mix map[string]int `mapstructure:"mix" yaml:"mix"`
}

// LoadConfig loads configuration with cascade: flags > ./seeder.yaml >
// ~/.nosctl/seeder.yaml > defaults. Environment variables use the SEEDER_
// prefix.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nosctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("sites", []string{"main"})
	v.SetDefault("count", 1000)
	v.SetDefault("visitors", 200)
	v.SetDefault("interval", 0)
	v.SetDefault("workers", 4)
	v.SetDefault("bot_ratio", 0.05)
	v.SetDefault("seed", 0)
	v.SetDefault("mix", map[string]int{
		TypePageview: 70,
		TypeClick:    12,
		TypeLeave:    10,
		TypeEvent:    4,
		TypeError:    2,
		TypeIdentify: 2,
	})
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if len(c.Sites) == 0 {
		return errors.New("at least one site is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Visitors <= 0 {
		return fmt.Errorf("visitors must be positive, got %d", c.Visitors)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BotRatio < 0 || c.BotRatio > 1 {
		return fmt.Errorf("bot_ratio must be within [0,1], got %v", c.BotRatio)
	}

	total := 0
	for typ, w := range c.Mix {
		if !knownTypes[typ] {
			return fmt.Errorf("mix: unknown event type %q", typ)
		}
		if w < 0 {
			return fmt.Errorf("mix: negative weight for %q", typ)
		}
		total += w
	}
	if total == 0 {
		return errors.New("mix must give at least one event type a positive weight")
	}

	return nil
}

// Package config holds the application's root configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/browser/handle"
	"github.com/xkilldash9x/wayfarer/internal/humanoid"
	"github.com/xkilldash9x/wayfarer/internal/movement"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig    `mapstructure:"logger"`
	Postgres PostgresConfig  `mapstructure:"postgres"`
	World    WorldConfig     `mapstructure:"world"`
	Browser  BrowserConfig   `mapstructure:"browser"`
	Movement movement.Config `mapstructure:"movement"`
	Queue    humanoid.Config `mapstructure:"queue"`
	Recovery handle.Config   `mapstructure:"recovery"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the database connection. An empty URL
// means the world graph comes from World.File and runs are not journaled.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// WorldConfig points at a YAML world file.
type WorldConfig struct {
	File string `mapstructure:"file"`
}

// BrowserConfig holds settings for the browser and the selectors the
// execution surface relies on.
type BrowserConfig struct {
	Headless  bool            `mapstructure:"headless"`
	StartURL  string          `mapstructure:"start_url"`
	Args      []string        `mapstructure:"args"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig maps UI concepts onto CSS selectors.
type SelectorsConfig struct {
	// Position is the element whose text holds the current "x, y".
	Position string `mapstructure:"position"`
	// Busy matches any element present while the character is acting.
	Busy string `mapstructure:"busy"`
	// Directions maps compass names (north, north_east, ...) to the walk buttons.
	Directions map[string]string `mapstructure:"directions"`
	// Action is a template for interact edges; {x} and {y} are replaced by
	// the destination.
	Action string `mapstructure:"action"`
	// InventoryItem matches every usable item for teleport edges.
	InventoryItem string `mapstructure:"inventory_item"`
	// ItemDestination is the item attribute naming where it teleports to.
	ItemDestination string `mapstructure:"item_destination"`
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "wayfarer")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("world.file", "world.yaml")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.selectors.position", "#position")
	v.SetDefault("browser.selectors.busy", ".busy")
	for _, d := range schemas.AllDirections {
		v.SetDefault("browser.selectors.directions."+d.Key(), fmt.Sprintf("button[data-direction=%q]", d.Key()))
	}
	v.SetDefault("browser.selectors.action", `[data-target="{x},{y}"]`)
	v.SetDefault("browser.selectors.inventory_item", ".inventory .item")
	v.SetDefault("browser.selectors.item_destination", "data-destination")

	mv := movement.DefaultConfig()
	v.SetDefault("movement.poll_interval", mv.PollInterval)
	v.SetDefault("movement.settle_timeout", mv.SettleTimeout)

	q := humanoid.DefaultConfig()
	v.SetDefault("queue.base_interval", q.BaseInterval)
	v.SetDefault("queue.min_delay", q.MinDelay)
	v.SetDefault("queue.average_delay", q.AverageDelay)
	v.SetDefault("queue.max_delay", q.MaxDelay)
	v.SetDefault("queue.drift", q.Drift)

	r := handle.DefaultConfig()
	v.SetDefault("recovery.backoff", r.Backoff)
	v.SetDefault("recovery.max_attempts", r.MaxAttempts)
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("movement.poll_interval", c.Movement.PollInterval)
	positive("movement.settle_timeout", c.Movement.SettleTimeout)
	positive("queue.base_interval", c.Queue.BaseInterval)
	positive("queue.min_delay", c.Queue.MinDelay)
	positive("recovery.backoff", c.Recovery.Backoff)

	if c.Queue.MinDelay > c.Queue.AverageDelay || c.Queue.AverageDelay > c.Queue.MaxDelay {
		errs = append(errs, fmt.Errorf("queue delays must satisfy min_delay <= average_delay <= max_delay, got %s/%s/%s",
			c.Queue.MinDelay, c.Queue.AverageDelay, c.Queue.MaxDelay))
	}
	if c.Queue.Drift < 0 || c.Queue.Drift > 1 {
		errs = append(errs, fmt.Errorf("queue.drift must be between 0 and 1, got %g", c.Queue.Drift))
	}
	if c.Recovery.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("recovery.max_attempts must be at least 1, got %d", c.Recovery.MaxAttempts))
	}
	if strings.TrimSpace(c.Browser.Selectors.Position) == "" {
		errs = append(errs, errors.New("browser.selectors.position is required"))
	}
	if c.Postgres.URL == "" && c.World.File == "" {
		errs = append(errs, errors.New("either postgres.url or world.file must be set"))
	}
	for key := range c.Browser.Selectors.Directions {
		if _, ok := schemas.ParseDirection(key); !ok {
			errs = append(errs, fmt.Errorf("browser.selectors.directions: unknown direction %q", key))
		}
	}
	return errors.Join(errs...)
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		Set(&cfg)
	})
	return loadErr
}

// Set replaces the configuration singleton. It exists for tests and for
// callers that build a Config by hand.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

package config

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/kochabx/vidchat/core/validator"
	"github.com/kochabx/vidchat/log"
)

// Config manages application configuration
type Config struct {
	mu       sync.RWMutex         // protects concurrent access to target
	viper    *viper.Viper         // viper instance for configuration management
	validate *validator.Validator // validator for configuration validation
	target   any                  // destination the configuration is unmarshalled into
	loader   Loader               // loader is responsible for loading configuration
	file     string               // explicit config file, optional
	watch    bool                 // whether Load starts watching for changes
	logger   *log.Logger
	onChange []func()
}

// New creates a new Config instance with the given options.
// If no loader is provided, a FileLoader is created that reads the file set
// by WithFile, or searches "config.yaml" in "." and "./configs" when no file
// is given; a missing file is not an error in that case.
func New(target any, opts ...Option) *Config {
	c := &Config{
		viper:    viper.New(),
		validate: validator.Validate,
		target:   target,
		logger:   log.G,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.loader == nil {
		c.loader = NewFileLoader(c.file, c.viper, c.validate)
	}

	return c
}

// Load reads, defaults, overrides from the environment and validates the
// configuration. With WithWatch(true) it also starts watching the file.
func (c *Config) Load() error {
	c.mu.Lock()
	err := c.loader.Load(c.target)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.watch {
		return c.Watch()
	}
	return nil
}

// Reload reloads the configuration from the loader
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loader.Load(c.target)
}

// Watch reloads the configuration whenever the file changes and notifies the
// callbacks registered with OnChange after each successful reload.
func (c *Config) Watch() error {
	return c.loader.Watch(func() {
		c.logger.Info().Msg("config change detected")

		if err := c.Reload(); err != nil {
			c.logger.Error().Err(err).Msg("failed to reload config after change")
			return
		}

		c.logger.Info().Msg("config reloaded successfully")

		c.mu.RLock()
		callbacks := c.onChange
		c.mu.RUnlock()
		for _, fn := range callbacks {
			fn()
		}
	})
}

// OnChange registers fn to run after every successful reload
func (c *Config) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Read runs fn while holding the read lock, so fn sees a consistent target
// even while a reload is in progress.
func (c *Config) Read(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

// GetViper returns the underlying viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.viper
}

// Load is a shortcut for New(target, WithFile(file)).Load()
func Load(file string, target any, opts ...Option) (*Config, error) {
	c := New(target, append([]Option{WithFile(file)}, opts...)...)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

package config

import "github.com/kochabx/vidchat/log"

// Option is a function that configures a Config
type Option func(*Config)

// WithLoader sets the configuration loader
func WithLoader(loader Loader) Option {
	return func(c *Config) {
		c.loader = loader
	}
}

// WithFile sets the config file; it must exist when set
func WithFile(file string) Option {
	return func(c *Config) {
		c.file = file
	}
}

// WithWatch enables or disables watching the file after Load
func WithWatch(enable bool) Option {
	return func(c *Config) {
		c.watch = enable
	}
}

// WithLogger sets the logger used for reload messages
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

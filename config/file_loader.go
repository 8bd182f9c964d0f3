package config

import (
	stderrors "errors"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/core/validator"
	"github.com/kochabx/vidchat/errors"
)

const (
	defaultName = "config"
	defaultType = "yaml"
)

var defaultPaths = []string{".", "./configs"}

// Loader 将配置加载到目标结构体，Watch 在源变化时回调
type Loader interface {
	Load(target any) error
	Watch(callback func()) error
}

// FileLoader loads configuration from an optional file plus the environment
type FileLoader struct {
	viper    *viper.Viper
	validate *validator.Validator
	file     string
}

// NewFileLoader creates a new file loader. An empty file searches the
// default paths and tolerates a missing file.
func NewFileLoader(file string, v *viper.Viper, validate *validator.Validator) *FileLoader {
	if file != "" {
		v.SetConfigFile(file)
		if ext := strings.TrimPrefix(filepath.Ext(file), "."); ext != "" {
			v.SetConfigType(ext)
		}
	} else {
		v.SetConfigName(defaultName)
		v.SetConfigType(defaultType)
		for _, p := range defaultPaths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &FileLoader{
		viper:    v,
		file:     file,
		validate: validate,
	}
}

// Load implements Loader interface
func (l *FileLoader) Load(target any) error {
	// Defaults go in first so keys absent from the file and the
	// environment keep them after unmarshalling.
	if err := tag.ApplyDefaults(target); err != nil {
		return errors.New(500, "failed to apply defaults: %v", err)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !stderrors.As(err, &notFound) {
			return errors.New(404, "config file not readable: %v", err)
		}
	}

	if err := bindEnvs(l.viper, target); err != nil {
		return errors.New(500, "failed to bind env: %v", err)
	}

	if err := l.viper.Unmarshal(target); err != nil {
		return errors.New(500, "config parse error: %v", err)
	}

	if l.validate != nil {
		if err := l.validate.Struct(target); err != nil {
			return errors.New(400, "config validation failed: %v", err)
		}
	}

	return nil
}

// Watch implements Loader interface
func (l *FileLoader) Watch(callback func()) error {
	if l.viper.ConfigFileUsed() == "" {
		return errors.New(400, "no config file to watch")
	}

	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if callback != nil {
			callback()
		}
	})

	l.viper.WatchConfig()
	return nil
}

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// bindEnvs registers every mapstructure key of target with viper so that
// environment variables override keys missing from the file, e.g.
// REDIS_URL for redis.url.
func bindEnvs(v *viper.Viper, target any) error {
	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return bindStruct(v, t, "")
}

func bindStruct(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		squash := strings.Contains(opts, "squash") || (field.Anonymous && name == "")
		if squash && ft.Kind() == reflect.Struct {
			if err := bindStruct(v, ft, prefix); err != nil {
				return err
			}
			continue
		}

		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := prefix + name

		if ft.Kind() == reflect.Struct && ft != reflect.TypeFor[time.Time]() {
			if err := bindStruct(v, ft, key+"."); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

// Package tag 根据 `default:"..."` 标签为结构体零值字段填充默认值。
package tag

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	tagName  = "default"
	maxDepth = 16
)

var (
	ErrTargetMustBePointer = errors.New("target must be a non-nil pointer to struct")
	ErrUnsupportedType     = errors.New("unsupported type")
)

var (
	durationType = reflect.TypeFor[time.Duration]()
	textType     = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// ApplyDefaults 填充 target 中带 default 标签且为零值的字段，嵌套结构体递归处理
func ApplyDefaults(target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrTargetMustBePointer
	}
	return apply(v.Elem(), "", 0)
}

func apply(v reflect.Value, path string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%s: max depth exceeded", path)
	}

	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		name := path + field.Name

		if def, ok := field.Tag.Lookup(tagName); ok && fv.IsZero() {
			if err := set(fv, def); err != nil {
				return fmt.Errorf("field %s default %q: %w", name, def, err)
			}
			continue
		}

		switch {
		case fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeFor[time.Time]():
			if err := apply(fv, name+".", depth+1); err != nil {
				return err
			}
		case fv.Kind() == reflect.Pointer && !fv.IsNil() && fv.Elem().Kind() == reflect.Struct:
			if err := apply(fv.Elem(), name+".", depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func set(v reflect.Value, s string) error {
	if v.CanAddr() && v.Addr().Type().Implements(textType) {
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Type() == durationType {
			d, err := time.ParseDuration(s)
			if err != nil {
				return err
			}
			v.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return ErrUnsupportedType
		}
		parts := strings.Split(s, ",")
		out := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(strings.TrimSpace(p))
		}
		v.Set(out)
	default:
		return ErrUnsupportedType
	}
	return nil
}

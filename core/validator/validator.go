// Package validator 封装 go-playground/validator，并把校验错误翻译为英文消息。
package validator

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Validator 校验器
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// Validate 全局校验器实例
var Validate = New()

// New 创建校验器，字段名取 mapstructure 标签以便与配置键对应
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	return &Validator{validate: v, trans: trans}
}

// Struct 校验结构体
func (v *Validator) Struct(s any) error {
	return v.StructCtx(context.Background(), s)
}

// StructCtx 带上下文校验结构体
func (v *Validator) StructCtx(ctx context.Context, s any) error {
	if s == nil {
		return errors.New("validation target cannot be nil")
	}
	return v.translate(v.validate.StructCtx(ctx, s))
}

// Var 校验单个值，如 Var(ip, "ip")
func (v *Validator) Var(field any, tag string) error {
	return v.translate(v.validate.Var(field, tag))
}

// Engine 返回底层 validator 实例
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

func (v *Validator) translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Errors{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Namespace: fe.Namespace(),
			Field:     fe.Field(),
			Tag:       fe.Tag(),
			Message:   fe.Translate(v.trans),
		})
	}
	return out
}

// Package validator wraps go-playground/validator with JSON field names,
// English and Chinese messages and the rules used by the knowledge API.
// A Validator is installed as gin's binding validator.
package validator

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	zhtranslations "github.com/go-playground/validator/v10/translations/zh"
)

// Language constants.
const (
	LangEN = "en"
	LangZH = "zh"
)

// FieldError is one failed rule, ready to be returned to a client.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Validator validates request structs.
type Validator struct {
	once     sync.Once
	validate *validator.Validate
	trans    map[string]ut.Translator
}

var _ binding.StructValidator = (*Validator)(nil)

// New creates a Validator with translations and custom rules registered.
func New() *Validator {
	v := &Validator{}
	v.lazyinit()
	return v
}

func (v *Validator) lazyinit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName("binding")
		v.validate.RegisterTagNameFunc(jsonName)

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale, zh.New())
		enTrans, _ := uni.GetTranslator(LangEN)
		zhTrans, _ := uni.GetTranslator(LangZH)
		_ = entranslations.RegisterDefaultTranslations(v.validate, enTrans)
		_ = zhtranslations.RegisterDefaultTranslations(v.validate, zhTrans)
		v.trans = map[string]ut.Translator{LangEN: enTrans, LangZH: zhTrans}

		v.registerRules()
	})
}

// jsonName reports fields by their JSON (or form) name.
func jsonName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// ValidateStruct implements binding.StructValidator. Pointers, slices and
// maps of structs are validated element-wise the way gin's default does.
func (v *Validator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return v.ValidateStruct(value.Elem().Interface())
	case reflect.Struct:
		v.lazyinit()
		return v.validate.Struct(obj)
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := v.ValidateStruct(value.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Engine implements binding.StructValidator.
func (v *Validator) Engine() any {
	v.lazyinit()
	return v.validate
}

// Translate converts a validation error into field errors in lang.
// ok is false when err did not come from the validator.
func (v *Validator) Translate(err error, lang string) (fields []FieldError, ok bool) {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return nil, false
	}
	v.lazyinit()
	trans, found := v.trans[lang]
	if !found {
		trans = v.trans[LangEN]
	}
	fields = make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(trans),
		})
	}
	return fields, true
}

package validator

import (
	"net/url"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Custom validation tags.
const (
	TagNotBlank  = "notblank"  // non-empty after trimming whitespace
	TagHTTPURL   = "httpurl"   // absolute http or https URL with a host
	TagObjectKey = "objectkey" // relative object key without ".." segments
)

func (v *Validator) registerRules() {
	_ = v.validate.RegisterValidation(TagNotBlank, validators.NotBlank)
	_ = v.validate.RegisterValidation(TagHTTPURL, validateHTTPURL)
	_ = v.validate.RegisterValidation(TagObjectKey, validateObjectKey)

	messages := map[string]map[string]string{
		LangEN: {
			TagNotBlank:  "{0} must not be blank",
			TagHTTPURL:   "{0} must be an http or https URL",
			TagObjectKey: "{0} must be a relative object key",
		},
		LangZH: {
			TagNotBlank:  "{0}不能为空白",
			TagHTTPURL:   "{0}必须是 http 或 https 地址",
			TagObjectKey: "{0}必须是相对的对象键",
		},
	}
	for lang, byTag := range messages {
		trans := v.trans[lang]
		for tag, msg := range byTag {
			registerTranslation(v.validate, trans, tag, msg)
		}
	}
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(strings.TrimSpace(fl.Field().String()))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateObjectKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}

// Package validation は入力構造体のタグベース検証を提供する。
// go-playground/validatorのエラーをVALIDATION_ERRORのAPIErrorに変換する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/studytrack/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct はvalidateタグに従ってsを検証する。
// 違反がある場合はフィールド名とタグを列挙したVALIDATION_ERRORを返す。
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return model.NewValidationError(err.Error())
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, describe(fe))
	}
	sort.Strings(fields)
	return model.NewValidationError(strings.Join(fields, ", "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", fe.Field())
	case "max":
		return fmt.Sprintf("%s は%s文字以内で入力してください", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s は%s以上で指定してください", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s は %s 形式で指定してください", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s が不正です（%s）", fe.Field(), fe.Tag())
	}
}

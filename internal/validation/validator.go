package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var initOnce sync.Once

// Init makes gin's validator report JSON field names and registers the
// task aliases. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		engine.RegisterAlias("taskstatus", "oneof=todo in_progress done")
		engine.RegisterAlias("taskpriority", "oneof=low medium high")
	})
}

// ToDetails converts binding errors into a field to message map.
func ToDetails(err error) map[string]string {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return map[string]string{"payload": "is required"}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return map[string]string{"payload": "invalid json"}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			details[fieldErr.Field()] = formatFieldError(fieldErr)
		}
		return details
	}

	return map[string]string{"payload": "invalid payload"}
}

func formatFieldError(fieldErr validator.FieldError) string {
	param := fieldErr.Param()
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if isNumberKind(fieldErr.Kind()) {
			return "must be at least " + param
		}
		return "must be at least " + param + " characters long"
	case "max":
		if isNumberKind(fieldErr.Kind()) {
			return "must be at most " + param
		}
		return "must be at most " + param + " characters long"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(param), ", ")
	case "taskstatus":
		return "must be one of: todo, in_progress, done"
	case "taskpriority":
		return "must be one of: low, medium, high"
	case "datetime":
		return "must match datetime format: " + param
	default:
		if param != "" {
			return fmt.Sprintf("validation failed for '%s' with parameter '%s'", fieldErr.Tag(), param)
		}
		return fmt.Sprintf("validation failed for '%s'", fieldErr.Tag())
	}
}

func isNumberKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

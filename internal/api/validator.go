package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// Validator instance for request validation
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("routing_name", func(fl validator.FieldLevel) bool {
		return events.IsKnownName(fl.Field().String())
	})
	_ = validate.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		raw := bytes.TrimSpace(fl.Field().Bytes())
		return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
	})
}

// validationDetails turns validator errors into the envelope's details map,
// keyed by JSON field name.
func validationDetails(err error) map[string][]string {
	details := make(map[string][]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["request"] = []string{err.Error()}
		return details
	}
	for _, fe := range verrs {
		details[fe.Field()] = append(details[fe.Field()], fieldMessage(fe))
	}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "routing_name":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.Join(events.KnownNames(), ", "))
	case "json_object":
		return fmt.Sprintf("%s must be a JSON object", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

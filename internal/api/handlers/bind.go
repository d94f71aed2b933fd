package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hmsportal/hms/internal/services"
)

const dateMessage = "must be a date (YYYY-MM-DD)"

// bindJSON decodes a JSON object body into dst. The named date fields accept
// YYYY-MM-DD as well as RFC3339. Decode failures are returned as a
// services.ValidationError keyed by JSON field name.
func bindJSON(c *gin.Context, dst any, dateFields ...string) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
		return &services.ValidationError{Fields: map[string]string{"body": "must be a JSON object"}}
	}

	fields := map[string]string{}
	for _, key := range dateFields {
		value, ok := raw[key]
		if !ok || isNull(value) {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			fields[key] = dateMessage
			continue
		}
		t, err := parseDate(strings.TrimSpace(s))
		if err != nil {
			fields[key] = dateMessage
			continue
		}
		if raw[key], err = json.Marshal(t); err != nil {
			return err
		}
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil || len(fields) > 0 {
		collectFieldErrors(raw, reflect.TypeOf(dst).Elem(), fields)
	}
	if len(fields) > 0 {
		return &services.ValidationError{Fields: fields}
	}
	return nil
}

// collectFieldErrors decodes each member on its own so every bad field is
// reported, including ones behind custom unmarshalers.
func collectFieldErrors(raw map[string]json.RawMessage, t reflect.Type, fields map[string]string) {
	for key, value := range raw {
		if _, done := fields[key]; done {
			continue
		}
		single, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		if err := json.Unmarshal(single, reflect.New(t).Interface()); err != nil {
			fields[key] = decodeMessage(err)
		}
	}
	if len(fields) == 0 {
		fields["body"] = "must be a JSON object"
	}
}

func decodeMessage(err error) string {
	var te *json.UnmarshalTypeError
	if !errors.As(err, &te) || te.Type == nil {
		return "is not valid"
	}
	t := te.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "must be a whole number"
	case reflect.Float32, reflect.Float64:
		return "must be a number"
	case reflect.String:
		return "must be a string"
	case reflect.Bool:
		return "must be true or false"
	case reflect.Slice, reflect.Array:
		return "must be a list"
	default:
		return "is not valid"
	}
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

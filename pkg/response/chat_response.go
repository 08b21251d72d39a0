// Package response provides API response helpers for the operator routes.
package response

import (
	"reflect"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Standard API Response
// =============================================================================

// Response is the envelope for corpus, contact and auth routes. Chat routes
// answer with bare bodies.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta contains result metadata.
type Meta struct {
	Total int    `json:"total"`
	Limit int    `json:"limit,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// =============================================================================
// Response Builders
// =============================================================================

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Accepted answers 202 for work handed to the sync worker.
func Accepted(c *fiber.Ctx, data interface{}, meta *Meta) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data, Meta: meta})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// =============================================================================
// Field Selection (Sparse Fieldsets)
// =============================================================================

// SelectFields filters struct fields based on the "fields" query parameter.
// Usage: GET /api/v1/corpus/search?q=invoice&fields=message_id,subject
func SelectFields(c *fiber.Ctx, data interface{}) interface{} {
	fieldsParam := c.Query("fields")
	if fieldsParam == "" {
		return data
	}

	fieldSet := make(map[string]bool)
	for _, f := range strings.Split(fieldsParam, ",") {
		if f = strings.TrimSpace(strings.ToLower(f)); f != "" {
			fieldSet[f] = true
		}
	}
	if len(fieldSet) == 0 {
		return data
	}

	return filterFields(data, fieldSet)
}

func filterFields(data interface{}, fields map[string]bool) interface{} {
	if data == nil {
		return nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		result := make([]map[string]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			result[i] = filterStructFields(v.Index(i), fields)
		}
		return result

	case reflect.Struct:
		return filterStructFields(v, fields)

	default:
		return data
	}
}

func filterStructFields(v reflect.Value, fields map[string]bool) map[string]interface{} {
	result := make(map[string]interface{})
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return result
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return result
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)

		jsonTag := field.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		jsonName := strings.Split(jsonTag, ",")[0]
		if fields[strings.ToLower(jsonName)] {
			result[jsonName] = v.Field(i).Interface()
		}
	}

	return result
}

// =============================================================================
// Limit Helper
// =============================================================================

// GetLimit reads the "limit" query parameter, clamped to [1, max].
func GetLimit(c *fiber.Ctx, defaultLimit, max int) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > max {
		limit = max
	}
	return limit
}

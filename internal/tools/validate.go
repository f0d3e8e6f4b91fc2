package tools

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ValidateArguments checks args against the subset of JSON Schema that
// tool definitions use: required fields, per-property primitive types,
// enums, and additionalProperties.
func ValidateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	properties, hasProperties := schema["properties"].(map[string]any)
	additional := true
	if raw, ok := schema["additionalProperties"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return errors.New(`schema "additionalProperties" must be a bool`)
		}
		additional = b
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := properties[key]
		if !ok {
			if hasProperties && !additional {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}
		propSchema, ok := prop.(map[string]any)
		if !ok {
			return fmt.Errorf("schema for %q must be an object", key)
		}
		value := args[key]
		if typ, ok := propSchema["type"].(string); ok && !matchesType(typ, value) {
			return fmt.Errorf("argument %q must be %s", key, typ)
		}
		if enum, ok := propSchema["enum"]; ok && !inEnum(enum, value) {
			return fmt.Errorf("argument %q must be one of %v", key, enum)
		}
	}
	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

func matchesType(typ string, value any) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string, []float64:
			return true
		}
		return false
	case "null":
		return value == nil
	default:
		return true
	}
}

func inEnum(enum any, value any) bool {
	switch e := enum.(type) {
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, v := range e {
			if v == s {
				return true
			}
		}
	case []any:
		for _, v := range e {
			if v == value {
				return true
			}
		}
	default:
		return true
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

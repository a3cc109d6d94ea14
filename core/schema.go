package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeInt    FieldType = "int"
	FieldTypeFloat  FieldType = "float"
	FieldTypeBool   FieldType = "bool"
	FieldTypeMap    FieldType = "map"
	FieldTypeList   FieldType = "list"
	FieldTypeAny    FieldType = "any"
)

func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeString, FieldTypeInt, FieldTypeFloat, FieldTypeBool, FieldTypeMap, FieldTypeList, FieldTypeAny:
		return true
	}
	return false
}

// FieldSpec declares one field of a data schema. Sensitive marks values that
// stores wrap in a secret envelope at rest when a provider is configured.
type FieldSpec struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Sensitive   bool      `json:"sensitive,omitempty"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// DataSchema is the declared shape of a step input or an entry's data map.
// Validation is explicit and declarative; integrations never validate inside
// step code what the schema can express.
type DataSchema struct {
	Fields       []FieldSpec `json:"fields"`
	AllowUnknown bool        `json:"allow_unknown,omitempty"`
}

func NewDataSchema(fields ...FieldSpec) *DataSchema {
	return &DataSchema{Fields: fields}
}

func (s *DataSchema) Validate() error {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, field := range s.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return fmt.Errorf("core: schema field name is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("core: schema field duplicated: %s", name)
		}
		seen[name] = struct{}{}
		if field.Type != "" && !field.Type.IsValid() {
			return fmt.Errorf("core: schema field %s has invalid type %q", name, field.Type)
		}
	}
	return nil
}

func (s *DataSchema) Field(name string) (FieldSpec, bool) {
	if s == nil {
		return FieldSpec{}, false
	}
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldSpec{}, false
}

// SensitiveFields lists the names of fields whose persisted values get
// envelope encrypted, sorted for deterministic store behavior.
func (s *DataSchema) SensitiveFields() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.Sensitive {
			names = append(names, field.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Apply validates and coerces input against the schema and returns the
// normalized copy. The input map is never mutated. A nil schema accepts
// anything. On failure the returned error is a validation envelope carrying
// one field error per offending field; the caller's state must not change.
func (s *DataSchema) Apply(input map[string]any) (map[string]any, error) {
	if s == nil {
		return cloneAnyMap(input), nil
	}

	out := make(map[string]any, len(s.Fields))
	var fieldErrs []goerrors.FieldError

	for _, field := range s.Fields {
		value, present := input[field.Name]
		if !present {
			if field.Required {
				fieldErrs = append(fieldErrs, goerrors.FieldError{
					Field:   field.Name,
					Message: "required field is missing",
				})
				continue
			}
			if field.Default != nil {
				out[field.Name] = field.Default
			}
			continue
		}
		coerced, err := coerceFieldValue(field.Type, value)
		if err != nil {
			fieldErrs = append(fieldErrs, goerrors.FieldError{
				Field:   field.Name,
				Message: err.Error(),
			})
			continue
		}
		out[field.Name] = coerced
	}

	if !s.AllowUnknown {
		known := make(map[string]struct{}, len(s.Fields))
		for _, field := range s.Fields {
			known[field.Name] = struct{}{}
		}
		unknown := make([]string, 0)
		for key := range input {
			if _, ok := known[key]; !ok {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			fieldErrs = append(fieldErrs, goerrors.FieldError{
				Field:   key,
				Message: "unknown field",
			})
		}
	} else {
		for key, value := range input {
			if _, declared := s.Field(key); !declared {
				out[key] = value
			}
		}
	}

	if len(fieldErrs) > 0 {
		return nil, goerrors.NewValidation("core: schema validation failed", fieldErrs...).
			WithCode(http.StatusBadRequest).
			WithTextCode(IntegrationErrorValidation).
			WithSeverity(goerrors.SeverityError)
	}
	return out, nil
}

func coerceFieldValue(fieldType FieldType, value any) (any, error) {
	switch fieldType {
	case "", FieldTypeAny:
		return value, nil
	case FieldTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", value)
	case FieldTypeInt:
		return coerceInt(value)
	case FieldTypeFloat:
		return coerceFloat(value)
	case FieldTypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", v)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", value)
	case FieldTypeMap:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected map, got %T", value)
	case FieldTypeList:
		if l, ok := value.([]any); ok {
			return l, nil
		}
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	return nil, fmt.Errorf("unsupported field type %q", fieldType)
}

// coerceInt accepts the integer shapes JSON decoding produces, including
// float64 values that carry an integral number.
func coerceInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
		return 0, fmt.Errorf("expected int, got fractional number %v", v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected int, got %q", v.String())
		}
		return int(parsed), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected int, got %q", v)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("expected int, got %T", value)
}

func coerceFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected float, got %q", v.String())
		}
		return parsed, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected float, got %q", v)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("expected float, got %T", value)
}

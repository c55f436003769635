// Package toolschema turns declarative tool definitions into runtime
// argument validators.
//
// A Definition describes one callable tool: its name, description, and
// a parameter object schema. Definitions are user-editable data, so
// Compile treats them as untrusted input and reports malformed schemas
// with field-level errors rather than panicking at dispatch time.
//
// Strict tool calling admits no optional parameters: the required set
// must always equal the full property set. Compile derives the set when
// a definition omits it and rejects definitions where the two diverge.
package toolschema

import (
	"fmt"
	"math"
	"strings"
)

// Supported property types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Property describes a single tool parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Param is a named property. Properties keep declaration order so the
// wire schema presented to the model matches what the user wrote.
type Param struct {
	Name string
	Property
}

// ObjectSchema is the top-level parameter schema of a tool. Only object
// schemas are accepted; anything else fails compilation.
type ObjectSchema struct {
	Type       string
	Properties []Param
	Required   []string
}

// Definition is a declarative tool definition.
type Definition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  ObjectSchema `json:"parameters"`
	Strict      bool         `json:"strict"`
}

// SchemaError reports a malformed tool definition. Field names the
// offending property where applicable.
type SchemaError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tool %q: parameter %q: %s", e.Tool, e.Field, e.Reason)
	}
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
}

// Validator checks tool-call arguments against a compiled definition.
// It accepts exactly the declared property set: missing and extra
// properties are both rejected.
type Validator struct {
	tool   string
	params []Param
}

// Compile validates a definition and builds its argument validator.
// It is a pure transform: no side effects, and the result is safe for
// concurrent use.
func Compile(def Definition) (*Validator, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, &SchemaError{Tool: def.Name, Reason: "name must not be empty"}
	}
	if strings.TrimSpace(def.Description) == "" {
		return nil, &SchemaError{Tool: def.Name, Reason: "description must not be empty"}
	}
	if def.Parameters.Type != "object" {
		return nil, &SchemaError{Tool: def.Name, Reason: fmt.Sprintf("top-level schema must be an object schema, got %q", def.Parameters.Type)}
	}
	if len(def.Parameters.Properties) == 0 {
		return nil, &SchemaError{Tool: def.Name, Reason: "at least one property is required"}
	}

	seen := make(map[string]bool, len(def.Parameters.Properties))
	for _, p := range def.Parameters.Properties {
		if p.Name == "" {
			return nil, &SchemaError{Tool: def.Name, Reason: "property with empty name"}
		}
		if seen[p.Name] {
			return nil, &SchemaError{Tool: def.Name, Field: p.Name, Reason: "duplicate property"}
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		case "":
			return nil, &SchemaError{Tool: def.Name, Field: p.Name, Reason: "missing type"}
		default:
			return nil, &SchemaError{Tool: def.Name, Field: p.Name, Reason: fmt.Sprintf("unsupported type %q", p.Type)}
		}

		if len(p.Enum) > 0 && p.Type != TypeString {
			return nil, &SchemaError{Tool: def.Name, Field: p.Name, Reason: "enum is only valid for string properties"}
		}
	}

	// The required set must equal the full property set. An omitted set
	// is derived; a stated one must match exactly.
	if len(def.Parameters.Required) > 0 {
		if len(def.Parameters.Required) != len(def.Parameters.Properties) {
			return nil, &SchemaError{Tool: def.Name, Reason: "required must list every property"}
		}
		for _, name := range def.Parameters.Required {
			if !seen[name] {
				return nil, &SchemaError{Tool: def.Name, Field: name, Reason: "required names an undeclared property"}
			}
		}
	}

	return &Validator{tool: def.Name, params: def.Parameters.Properties}, nil
}

// Check validates a tool-call argument object. Every declared property
// must be present with a conforming value, and no undeclared keys are
// allowed.
func (v *Validator) Check(args map[string]any) error {
	declared := make(map[string]bool, len(v.params))
	for _, p := range v.params {
		declared[p.Name] = true
		val, ok := args[p.Name]
		if !ok {
			return fmt.Errorf("tool %q: missing required argument %q", v.tool, p.Name)
		}
		if err := checkValue(p, val); err != nil {
			return fmt.Errorf("tool %q: argument %q: %w", v.tool, p.Name, err)
		}
	}

	for k := range args {
		if !declared[k] {
			return fmt.Errorf("tool %q: unexpected argument %q", v.tool, k)
		}
	}
	return nil
}

func checkValue(p Param, val any) error {
	switch p.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if s == e {
					return nil
				}
			}
			return fmt.Errorf("value %q not in enum %v", s, p.Enum)
		}
		if p.MinLength != nil && len(s) < *p.MinLength {
			return fmt.Errorf("length %d below minLength %d", len(s), *p.MinLength)
		}
		if p.MaxLength != nil && len(s) > *p.MaxLength {
			return fmt.Errorf("length %d above maxLength %d", len(s), *p.MaxLength)
		}
		return nil

	case TypeNumber, TypeInteger:
		f, ok := toFloat(val)
		if !ok {
			return fmt.Errorf("expected %s, got %T", p.Type, val)
		}
		if p.Type == TypeInteger && math.Trunc(f) != f {
			return fmt.Errorf("expected whole number, got %v", f)
		}
		if p.Minimum != nil && f < *p.Minimum {
			return fmt.Errorf("value %v below minimum %v", f, *p.Minimum)
		}
		if p.Maximum != nil && f > *p.Maximum {
			return fmt.Errorf("value %v above maximum %v", f, *p.Maximum)
		}
		return nil

	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
		return nil
	}

	// Compile rejects unknown types, so dispatch never reaches here.
	return fmt.Errorf("unsupported type %q", p.Type)
}

// toFloat normalizes the numeric representations JSON decoding and
// in-process callers produce.
func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// WireSchema returns the JSON-schema object sent to the model provider.
// The required list always covers every declared property, and
// additional properties are rejected.
func (d Definition) WireSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters.Properties))
	required := make([]string, 0, len(d.Parameters.Properties))
	for _, p := range d.Parameters.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.MinLength != nil {
			prop["minLength"] = *p.MinLength
		}
		if p.MaxLength != nil {
			prop["maxLength"] = *p.MaxLength
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		props[p.Name] = prop
		required = append(required, p.Name)
	}

	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

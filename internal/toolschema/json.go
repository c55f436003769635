package toolschema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes a JSON object schema while preserving the
// declaration order of its properties. encoding/json maps would lose
// the order, so the properties object is walked token by token.
func (s *ObjectSchema) UnmarshalJSON(data []byte) error {
	var loose struct {
		Type       string          `json:"type"`
		Required   []string        `json:"required"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &loose); err != nil {
		return err
	}

	s.Type = loose.Type
	s.Required = loose.Required
	s.Properties = nil

	if len(loose.Properties) == 0 || string(loose.Properties) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(loose.Properties))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode property name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode property name: unexpected token %v", keyTok)
		}

		var prop Property
		if err := dec.Decode(&prop); err != nil {
			return fmt.Errorf("decode property %q: %w", name, err)
		}
		s.Properties = append(s.Properties, Param{Name: name, Property: prop})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}
	return nil
}

// MarshalJSON encodes the schema with properties in declaration order
// and a required list covering every property.
func (s ObjectSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	writeJSON(&buf, s.Type)

	buf.WriteString(`,"properties":{`)
	required := make([]string, 0, len(s.Properties))
	for i, p := range s.Properties {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, p.Name)
		buf.WriteByte(':')
		writeJSON(&buf, p.Property)
		required = append(required, p.Name)
	}
	buf.WriteByte('}')

	buf.WriteString(`,"required":`)
	writeJSON(&buf, required)
	buf.WriteString(`,"additionalProperties":false}`)
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		// All inputs here are plain strings and structs of scalars.
		buf.WriteString("null")
		return
	}
	buf.Write(b)
}

package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// FieldType is an index field type.
type FieldType string

// Field types understood by every index backend.
const (
	Keyword     FieldType = "keyword"
	Boolean     FieldType = "boolean"
	Date        FieldType = "date"
	Text        FieldType = "text"
	TextKeyword FieldType = "text+keyword"
	Integer     FieldType = "integer"
	Float       FieldType = "float"
)

// ErrUndeclaredField is returned when a document carries a field the mapping does not declare.
var ErrUndeclaredField = errors.New("undeclared field")

// ErrFieldType is returned when a value does not fit its declared type.
var ErrFieldType = errors.New("field type mismatch")

// Mapping is a strict field-type mapping. Unknown fields are rejected.
type Mapping struct {
	Fields map[string]FieldType
}

// DefaultMapping returns the mapping for review documents.
func DefaultMapping() Mapping {
	return Mapping{Fields: map[string]FieldType{
		"id_review":                        Keyword,
		"id_user":                          Keyword,
		"enterprise_url":                   Keyword,
		"is_verified":                      Boolean,
		"date_review":                      Date,
		"date_response":                    Date,
		"created_at":                       Date,
		"updated_at":                       Date,
		"user_name":                        TextKeyword,
		"enterprise_name":                  TextKeyword,
		"user_review":                      Text,
		"enterprise_response":              Text,
		"user_review_length":               Integer,
		"enterprise_review_number":         Integer,
		"enterprise_percentage_one_star":   Integer,
		"enterprise_percentage_two_star":   Integer,
		"enterprise_percentage_three_star": Integer,
		"enterprise_percentage_four_star":  Integer,
		"enterprise_percentage_five_star":  Integer,
		"user_rating":                      Float,
		"enterprise_rating":                Float,
	}}
}

// Names returns the declared field names in sorted order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a decoded JSON object against the mapping.
func (m Mapping) Validate(doc map[string]any) error {
	for name, value := range doc {
		typ, ok := m.Fields[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUndeclaredField, name)
		}
		if value == nil {
			continue
		}
		if !fits(typ, value) {
			return fmt.Errorf("%w: %s is not %s", ErrFieldType, name, typ)
		}
	}
	return nil
}

// ValidateJSON decodes a JSON object and validates it.
func (m Mapping) ValidateJSON(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return m.Validate(doc)
}

func fits(typ FieldType, value any) bool {
	switch typ {
	case Keyword, Text, TextKeyword:
		_, ok := value.(string)
		return ok
	case Boolean:
		_, ok := value.(bool)
		return ok
	case Integer:
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case Float:
		_, ok := value.(float64)
		return ok
	case Date:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ElasticsearchBody renders the mapping as an index creation body.
func (m Mapping) ElasticsearchBody() map[string]any {
	props := make(map[string]any, len(m.Fields))
	for name, typ := range m.Fields {
		switch typ {
		case TextKeyword:
			props[name] = map[string]any{
				"type":   "text",
				"fields": map[string]any{"raw": map[string]any{"type": "keyword"}},
			}
		default:
			props[name] = map[string]any{"type": string(typ)}
		}
	}
	return map[string]any{
		"mappings": map[string]any{
			"dynamic":    "strict",
			"properties": props,
		},
	}
}

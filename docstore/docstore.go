// Package docstore is a small document store abstraction, used as a side
// collection next to the file based pipeline.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Document is a schemaless document, keyed by field name.
type Document map[string]any

// Store is implemented by the Mongo and in-memory stores. Update has merge
// patch semantics: given fields are set, all others are kept.
type Store interface {
	Create(ctx context.Context, id string, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	Find(ctx context.Context, query map[string]any) ([]Document, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Document, error)
}

// Kind of a schema field.
type Kind int

const (
	Any Kind = iota
	String
	Number
	Bool
	StringList
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case StringList:
		return "string list"
	default:
		return "any"
	}
}

// Schema describes the allowed fields of a collection.
type Schema struct {
	Name     string
	Fields   map[string]Kind
	Required []string
}

// ValidationError names the offending field.
type ValidationError struct {
	Schema   string
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: unknown field %q", e.Schema, e.Field)
	}
	return fmt.Sprintf("%s: field %q expects %s, got %s", e.Schema, e.Field, e.Expected, e.Actual)
}

// Validate checks fields against the schema. With partial set, required
// fields may be missing, as for a merge patch. Fields are checked in sorted
// order, so the reported error is stable.
func (s *Schema) Validate(fields map[string]any, partial bool) error {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "_id" {
			continue
		}
		kind, ok := s.Fields[k]
		if !ok {
			return &ValidationError{Schema: s.Name, Field: k}
		}
		if v := fields[k]; v != nil && !matches(kind, v) {
			return &ValidationError{
				Schema:   s.Name,
				Field:    k,
				Expected: kind.String(),
				Actual:   fmt.Sprintf("%T", v),
			}
		}
	}
	if partial {
		return nil
	}
	for _, k := range s.Required {
		if _, ok := fields[k]; !ok {
			return &ValidationError{Schema: s.Name, Field: k, Expected: s.Fields[k].String(), Actual: "missing"}
		}
	}
	return nil
}

func matches(kind Kind, v any) bool {
	switch kind {
	case String:
		_, ok := v.(string)
		return ok
	case Number:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case Bool:
		_, ok := v.(bool)
		return ok
	case StringList:
		switch t := v.(type) {
		case []string:
			return true
		case []any:
			for _, e := range t {
				if _, ok := e.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	default:
		return true
	}
}

// Strings reads a list of strings from a decoded document field.
func Strings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		var result []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

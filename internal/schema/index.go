// Package schema holds the read-only Schema Index: the catalogue of
// queryable fields and the worked-example library the agent retrieves over.
// An Index is built once at startup and never mutated while serving;
// replacing it means building a new Index and swapping the pointer.
package schema

import (
	"fmt"

	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

// FieldKind classifies a queryable attribute.
type FieldKind string

const (
	KindMeasure       FieldKind = "measure"
	KindDimension     FieldKind = "dimension"
	KindTimeDimension FieldKind = "time_dimension"
)

// Field is a single queryable attribute of the semantic layer.
type Field struct {
	Name        string    `json:"name"` // fully qualified: entity.field
	Kind        FieldKind `json:"kind"`
	Entity      string    `json:"entity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ValueType   string    `json:"valueType,omitempty"` // number|string|time|boolean
	AggType     string    `json:"aggType,omitempty"`   // measures: count, sum, avg...
}

// EmbeddingText builds the text that represents this field in vector space.
func (f Field) EmbeddingText() string {
	text := fmt.Sprintf("%s. %s. Entity: %s. Type: %s, %s", f.Title, f.Description, f.Entity, f.Kind, f.ValueType)
	if f.AggType != "" {
		text += fmt.Sprintf(". Aggregation: %s", f.AggType)
	}
	return text
}

// Example is a worked natural-language question with its known-good query.
type Example struct {
	Question string      `json:"question"`
	Intent   string      `json:"intent,omitempty"`
	Query    *cube.Query `json:"query,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
}

// Index is the immutable schema catalogue. Field order is preserved from
// load so that retrieval tie-breaks are deterministic.
type Index struct {
	fields   []Field
	examples []Example
	byName   map[string]int
}

// NewIndex builds an Index, rejecting duplicate fully-qualified names.
func NewIndex(fields []Field, examples []Example) (*Index, error) {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has empty name", i)
		}
		if _, exists := byName[f.Name]; exists {
			return nil, fmt.Errorf("duplicate field name: %s", f.Name)
		}
		byName[f.Name] = i
	}

	return &Index{
		fields:   append([]Field(nil), fields...),
		examples: append([]Example(nil), examples...),
		byName:   byName,
	}, nil
}

// Fields returns the fields in insertion order. Callers must not modify
// the returned slice.
func (ix *Index) Fields() []Field {
	return ix.fields
}

// Examples returns the worked-example library.
func (ix *Index) Examples() []Example {
	return ix.examples
}

// Len returns the number of fields.
func (ix *Index) Len() int {
	return len(ix.fields)
}

// HasField reports whether name is a known fully-qualified field.
func (ix *Index) HasField(name string) bool {
	_, ok := ix.byName[name]
	return ok
}

// FieldByName returns the field for an exact fully-qualified name.
func (ix *Index) FieldByName(name string) (Field, bool) {
	i, ok := ix.byName[name]
	if !ok {
		return Field{}, false
	}
	return ix.fields[i], true
}

// ResolveField maps a possibly-misspelled member name onto a canonical
// field name: exact match first, then the fuzzy normalization pipeline.
// Returns the canonical name and whether any match was found.
func (ix *Index) ResolveField(name string) (string, bool) {
	if ix.HasField(name) {
		return name, true
	}
	return resolveFuzzy(name, ix.fields)
}

// FieldNames returns all fully-qualified names in insertion order.
func (ix *Index) FieldNames() []string {
	names := make([]string, len(ix.fields))
	for i, f := range ix.fields {
		names[i] = f.Name
	}
	return names
}

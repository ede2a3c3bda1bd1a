// Package ident provides schema-qualified identifiers for the sync
// engine's tables, rooted at a single logical namespace ("stripe" by
// default).
package ident

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Ident is a single, lower-cased SQL identifier segment.
type Ident string

// New normalizes raw into an Ident.
func New(raw string) Ident {
	return Ident(strings.ToLower(strings.TrimSpace(raw)))
}

// Raw returns the normalized string form.
func (i Ident) Raw() string { return string(i) }

func (i Ident) String() string { return string(i) }

// Schema is a single-level schema identifier (e.g. "stripe").
type Schema struct {
	name Ident
}

// NewSchema constructs a Schema from a raw name.
func NewSchema(raw string) Schema {
	return Schema{name: New(raw)}
}

// Raw returns the schema's name.
func (s Schema) Raw() string { return s.name.Raw() }

func (s Schema) String() string { return s.name.Raw() }

// ParseSchema parses a schema name, rejecting empty input. It exists to
// mirror ident.ParseSchema, used when scanning rows that name a schema
// (e.g. when discovering merchant tenants).
func ParseSchema(raw string) (Schema, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Schema{}, errors.New("empty schema name")
	}
	return NewSchema(trimmed), nil
}

// Table is a schema-qualified table identifier.
type Table struct {
	schema Schema
	table  Ident
}

// NewTable constructs a schema-qualified table identifier.
func NewTable(schema Schema, table string) Table {
	return Table{schema: schema, table: New(table)}
}

// Schema returns the owning schema.
func (t Table) Schema() Schema { return t.schema }

// Table returns the unqualified table name.
func (t Table) Table() Ident { return t.table }

// Raw returns the `schema.table` SQL-safe string.
func (t Table) Raw() string {
	return fmt.Sprintf("%s.%s", t.schema.Raw(), t.table.Raw())
}

func (t Table) String() string { return t.Raw() }

// TableMap is a simple ordered map keyed by Table, used to accumulate
// per-table batches.
type TableMap[V any] struct {
	order []Table
	data  map[Table]V
}

// Get returns the stored value and whether it was present.
func (m *TableMap[V]) Get(t Table) (V, bool) {
	v, ok := m.data[t]
	return v, ok
}

// GetZero returns the stored value, or the zero value if absent.
func (m *TableMap[V]) GetZero(t Table) V {
	return m.data[t]
}

// Put stores a value for the given table, preserving first-insertion order.
func (m *TableMap[V]) Put(t Table, v V) {
	if m.data == nil {
		m.data = make(map[Table]V)
	}
	if _, ok := m.data[t]; !ok {
		m.order = append(m.order, t)
	}
	m.data[t] = v
}

// Range iterates in insertion order, stopping early if fn returns an error.
func (m *TableMap[V]) Range(fn func(Table, V) error) error {
	for _, t := range m.order {
		if err := fn(t, m.data[t]); err != nil {
			return err
		}
	}
	return nil
}

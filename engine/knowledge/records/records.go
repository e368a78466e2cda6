// Package records turns rows of a relational table into synthetic text
// sources so structured data can be searched next to documents.
package records

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Spec names the table and columns to sync.
type Spec struct {
	Table     string
	KeyColumn string
	Columns   []string
	Category  string
	Limit     uint64
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return errors.New("records: table is required")
	}
	if strings.TrimSpace(s.KeyColumn) == "" {
		return errors.New("records: key column is required")
	}
	return nil
}

// Row is one table row. Columns keeps the rendering order.
type Row struct {
	Key     string
	Columns []string
	Values  map[string]any
}

// Provider reads rows of a table.
type Provider interface {
	Fetch(ctx context.Context, spec Spec) ([]Row, error)
}

// NewRow builds a Row from a scanned map. When columns is empty every
// column is kept in name order.
func NewRow(keyColumn string, columns []string, values map[string]any) (Row, error) {
	key, ok := values[keyColumn]
	if !ok || key == nil {
		return Row{}, fmt.Errorf("records: row has no value for key column %q", keyColumn)
	}
	order := columns
	if len(order) == 0 {
		order = slices.Sorted(maps.Keys(values))
	}
	return Row{Key: formatValue(key), Columns: order, Values: values}, nil
}

// Origin is the stable logical key of a row's synthetic source.
func Origin(table, key string) string {
	return "records:" + table + ":" + key
}

// Name is the display name of a row's synthetic source.
func Name(table, key string) string {
	return table + " #" + key
}

// Render prints a row as "column: value" lines, skipping empty values.
func Render(row Row) string {
	var b strings.Builder
	for _, col := range row.Columns {
		v, ok := row.Values[col]
		if !ok || v == nil {
			continue
		}
		text := strings.TrimSpace(formatValue(v))
		if text == "" {
			continue
		}
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

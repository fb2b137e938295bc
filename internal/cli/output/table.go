package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// TableFormatter formats data as an aligned text table.
//
// Data other than a Table is first reduced to its JSON form, so struct
// json tags decide column names. Objects become PATH/VALUE rows with nested
// fields flattened to dotted paths (root.count, items[0]); slices of objects
// become one row per element. Wide expands nested values inside list rows
// instead of summarizing them.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format formats data as a table.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}

	if t, ok := data.(*Table); ok {
		return t.RenderWithOptions(w, f.NoHeaders)
	}
	if t, ok := data.(Table); ok {
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	generic, err := toGeneric(data)
	if err != nil {
		return err
	}

	return toTable(generic, f.Wide).RenderWithOptions(w, f.NoHeaders)
}

// toGeneric reduces data to the maps, slices and scalars of its JSON form.
func toGeneric(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode for table: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode for table: %w", err)
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers turns json.Number into int64 where it fits, float64
// otherwise, so sequence numbers and counters print without exponents.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

func toTable(v any, wide bool) *Table {
	switch val := v.(type) {
	case map[string]any:
		t := &Table{Headers: []string{"PATH", "VALUE"}}
		flatten(t, "", val)
		return t
	case []any:
		return listTable(val, wide)
	default:
		return &Table{Headers: []string{"VALUE"}, Rows: [][]string{{formatScalar(val)}}}
	}
}

// flatten adds one row per leaf of v, keyed by its dotted path.
func flatten(t *Table, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 && prefix != "" {
			t.AddRow(prefix, "{}")
			return
		}
		for _, k := range sortedKeys(val) {
			flatten(t, joinPath(prefix, k), val[k])
		}
	case []any:
		if len(val) == 0 {
			t.AddRow(prefix, "[]")
			return
		}
		for i, item := range val {
			flatten(t, prefix+"["+strconv.Itoa(i)+"]", item)
		}
	default:
		t.AddRow(prefix, formatScalar(val))
	}
}

// listTable renders a list. Lists of objects get one column per key seen
// in any element.
func listTable(items []any, wide bool) *Table {
	if len(items) == 0 {
		return &Table{}
	}

	var keys []string
	seen := make(map[string]bool)
	objects := true
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			objects = false
			break
		}
		for _, k := range sortedKeys(obj) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	if !objects {
		t := &Table{Headers: []string{"VALUE"}}
		for _, item := range items {
			t.AddRow(formatCell(item, wide))
		}
		return t
	}

	t := &Table{Headers: make([]string, len(keys))}
	for i, k := range keys {
		t.Headers[i] = strings.ToUpper(k)
	}
	for _, item := range items {
		obj := item.(map[string]any)
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = formatCell(obj[k], wide)
		}
		t.AddRow(row...)
	}
	return t
}

// formatCell formats a value that must fit in one cell.
func formatCell(v any, wide bool) string {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return "-"
		}
		if wide {
			return compactJSON(val)
		}
		return fmt.Sprintf("{%d keys}", len(val))
	case []any:
		if len(val) == 0 {
			return "-"
		}
		if wide {
			return compactJSON(val)
		}
		return fmt.Sprintf("[%d items]", len(val))
	default:
		return formatScalar(val)
	}
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions renders the table with options.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// SetHeaders sets the table headers.
func (t *Table) SetHeaders(headers ...string) {
	t.Headers = headers
}

package ordered

// Row carries one record's column values between a Store and its Schema
// codec. Values are the SQLite scalar kinds: int64, float64, string,
// []byte or nil. The store adds the reserved key "pos" holding the
// record's current zero-based position before calling Decode.
type Row map[string]any

// PosKey is the reserved Row key under which the store reports an item's
// ordinal position to Decode. It is never a declared column.
const PosKey = "pos"

// Column declares one persisted field and its SQLite affinity
// (INTEGER, REAL, TEXT or BLOB).
type Column struct {
	Name string
	Type string
}

// Schema is the explicit, design-time mapping between T and its row shape.
// Every persisted field has exactly one declared column and encoding;
// nothing is inferred at runtime from the value itself. Non-primitive
// fields should be encoded by the codec into a single BLOB column.
type Schema[T any] struct {
	Table   string
	Columns []Column
	Encode  func(item T) (Row, error)
	Decode  func(row Row) (T, error)
}

// Int64 reads an integer column, tolerating a missing or null value.
func (that Row) Int64(name string) int64 {
	value, _ := that[name].(int64)
	return value
}

// Float64 reads a real column, tolerating a missing or null value and an
// integer stored where a real is expected.
func (that Row) Float64(name string) float64 {
	switch value := that[name].(type) {
	case float64:
		return value
	case int64:
		return float64(value)
	default:
		return 0
	}
}

// String reads a text column, tolerating a missing or null value.
func (that Row) String(name string) string {
	switch value := that[name].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return ""
	}
}

// Bytes reads a blob column, tolerating a missing or null value.
func (that Row) Bytes(name string) []byte {
	switch value := that[name].(type) {
	case []byte:
		return value
	case string:
		return []byte(value)
	default:
		return nil
	}
}

// IsNull reports whether the column is absent or null.
func (that Row) IsNull(name string) bool {
	value, ok := that[name]
	return !ok || value == nil
}

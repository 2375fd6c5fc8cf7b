package value

// Value is a schema-less JSON value produced by document extraction.
// The set of implementations is closed: String, Number, Bool, Null, List
// and Map. Code that walks a Value switches over exactly these types
type Value interface {
	isValue()
}

// String is a JSON string
type String string

// Number is a JSON number
type Number float64

// Bool is a JSON boolean
type Bool bool

// Null is the JSON null literal
type Null struct{}

// List is a JSON array
type List []Value

// Field is one key/value pair of a Map
type Field struct {
	Key   string
	Value Value
}

// Map is a JSON object. Fields keep the order in which they were decoded
type Map []Field

func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (List) isValue()   {}
func (Map) isValue()    {}

// Get returns the value stored under key
func (m Map) Get(key string) (Value, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// With returns m with key set to v. An existing key keeps its position
func (m Map) With(key string, v Value) Map {
	for i, f := range m {
		if f.Key == key {
			out := make(Map, len(m))
			copy(out, m)
			out[i].Value = v
			return out
		}
	}
	return append(m, Field{Key: key, Value: v})
}

// Keys returns the field names in order
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for _, f := range m {
		keys = append(keys, f.Key)
	}
	return keys
}

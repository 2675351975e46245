package json

import (
	jso "encoding/json"
	"sort"
	"strings"

	"github.com/curtisnewbie/evbus/util/strutil"
	"github.com/spf13/cast"
)

type Kind int

const (
	KindNull Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	}
	return "null"
}

// Generic JSON tree, for payloads that don't have a declared schema.
//
// Lookups never fail: missing keys, out of range indexes or lookups on the wrong kind
// all yield a null Document. Use the E suffixed accessors to get the conversion errors.
type Document struct {
	v any
}

// Parse json bytes into a Document, empty (or blank) input is parsed as a null Document.
func ParseDocument(b []byte) (Document, error) {
	if strutil.IsBlankStr(strutil.UnsafeByt2Str(b)) {
		return Document{}, nil
	}
	var v any
	if err := docConfig.Unmarshal(b, &v); err != nil {
		return Document{}, err
	}
	return Document{v: v}, nil
}

// Parse json string into a Document.
func SParseDocument(s string) (Document, error) {
	return ParseDocument(strutil.UnsafeStr2Byt(s))
}

func (d Document) Kind() Kind {
	switch d.v.(type) {
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case string:
		return KindString
	case jso.Number, float64, float32, int, int64:
		return KindNumber
	case bool:
		return KindBool
	}
	return KindNull
}

func (d Document) IsNull() bool {
	return d.v == nil
}

// Get field of an object.
//
// Exact match is preferred, field names are otherwise matched case-insensitively.
func (d Document) Get(key string) Document {
	m, ok := d.v.(map[string]any)
	if !ok {
		return Document{}
	}
	if v, ok := m[key]; ok {
		return Document{v: v}
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return Document{v: v}
		}
	}
	return Document{}
}

// Walk through nested objects.
func (d Document) Path(keys ...string) Document {
	c := d
	for _, k := range keys {
		c = c.Get(k)
		if c.IsNull() {
			return c
		}
	}
	return c
}

// Get element of an array.
func (d Document) Index(i int) Document {
	l, ok := d.v.([]any)
	if !ok || i < 0 || i >= len(l) {
		return Document{}
	}
	return Document{v: l[i]}
}

// Number of elements in array, fields in object, or runes in string.
func (d Document) Len() int {
	switch v := d.v.(type) {
	case map[string]any:
		return len(v)
	case []any:
		return len(v)
	case string:
		return len([]rune(v))
	}
	return 0
}

// Sorted field names of an object.
func (d Document) Keys() []string {
	m, ok := d.v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Document) Has(key string) bool {
	m, ok := d.v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

func (d Document) StrE() (string, error) {
	if d.v == nil {
		return "", nil
	}
	switch d.v.(type) {
	case map[string]any, []any:
		return d.String(), nil
	}
	return cast.ToStringE(d.v)
}

func (d Document) Str() string {
	s, _ := d.StrE()
	return s
}

func (d Document) IntE() (int, error) {
	return cast.ToIntE(d.v)
}

func (d Document) Int() int {
	n, _ := d.IntE()
	return n
}

func (d Document) Int64E() (int64, error) {
	return cast.ToInt64E(d.v)
}

func (d Document) Int64() int64 {
	n, _ := d.Int64E()
	return n
}

func (d Document) FloatE() (float64, error) {
	return cast.ToFloat64E(d.v)
}

func (d Document) Float() float64 {
	n, _ := d.FloatE()
	return n
}

func (d Document) BoolE() (bool, error) {
	return cast.ToBoolE(d.v)
}

func (d Document) Bool() bool {
	b, _ := d.BoolE()
	return b
}

// Underlying value: nil, map[string]any, []any, string, json.Number or bool.
func (d Document) Value() any {
	return d.v
}

// Decode the Document into a typed value.
func (d Document) Decode(ptr any) error {
	b, err := docConfig.Marshal(d.v)
	if err != nil {
		return err
	}
	return ParseJson(b, ptr)
}

func (d Document) MarshalJSON() ([]byte, error) {
	return docConfig.Marshal(d.v)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	nd, err := ParseDocument(b)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

// Document as json string.
func (d Document) String() string {
	b, err := docConfig.Marshal(d.v)
	if err != nil {
		return ""
	}
	return string(b)
}

package json

import (
	"bytes"
	jso "encoding/json"
	"io"

	"github.com/curtisnewbie/evbus/util/strutil"
	jsoniter "github.com/json-iterator/go"
)

var (
	// Field names are written as declared (or as tagged), decoding matches them case-insensitively,
	// so payloads produced by other languages' default serializers still decode.
	config = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()

	// numbers are kept as json.Number in Document to avoid losing precision of large integers.
	docConfig = jsoniter.Config{
		EscapeHTML: true,
		UseNumber:  true,
	}.Froze()
)

// Parse json bytes.
func ParseJson(body []byte, ptr any) error {
	return config.Unmarshal(body, ptr)
}

// Parse json bytes.
func ParseJsonAs[T any](body []byte) (T, error) {
	var t T
	return t, ParseJson(body, &t)
}

// Parse json string.
func SParseJson(body string, ptr any) error {
	return ParseJson(strutil.UnsafeStr2Byt(body), ptr)
}

// Parse json string.
func SParseJsonAs[T any](body string) (T, error) {
	var t T
	return t, SParseJson(body, &t)
}

// Write json as bytes.
func WriteJson(body any) ([]byte, error) {
	return config.Marshal(body)
}

// Write json as string.
func SWriteJson(body any) (string, error) {
	if v, ok := body.(string); ok {
		return v, nil
	}
	buf, err := WriteJson(body)
	if err != nil {
		return "", err
	}
	return strutil.UnsafeByt2Str(buf), nil
}

// Decode json.
func DecodeJson(reader io.Reader, ptr any) error {
	return config.NewDecoder(reader).Decode(ptr)
}

// Encode json.
func EncodeJson(writer io.Writer, body any) error {
	return config.NewEncoder(writer).Encode(body)
}

func IsValidJson(s []byte) bool {
	return config.Valid(s)
}

func Indent(b []byte) string {
	var buf bytes.Buffer
	if err := jso.Indent(&buf, b, "", "  "); err != nil {
		return strutil.UnsafeByt2Str(b)
	}
	return buf.String()
}

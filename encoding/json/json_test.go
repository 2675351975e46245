package json

import (
	"bytes"
	"testing"
)

type dummy struct {
	Name   string
	Amount int
}

func TestSWriteJson(t *testing.T) {
	s, err := SWriteJson(dummy{Name: "aha", Amount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if s != `{"Name":"aha","Amount":3}` {
		t.Fatalf("unexpected json: %v", s)
	}

	s, err = SWriteJson("already a string")
	if err != nil {
		t.Fatal(err)
	}
	if s != "already a string" {
		t.Fatalf("string should be returned as is, %v", s)
	}
}

func TestParseJsonAs(t *testing.T) {
	d, err := ParseJsonAs[dummy]([]byte(`{ "name": "yes", "amount": 10 }`))
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "yes" || d.Amount != 10 {
		t.Fatalf("field names should be matched case-insensitively, %#v", d)
	}
}

func TestSParseJsonAsInvalid(t *testing.T) {
	if _, err := SParseJsonAs[dummy](`{ "name": `); err == nil {
		t.Fatal("expected error for truncated json")
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeJson(&buf, dummy{Name: "a", Amount: 1}); err != nil {
		t.Fatal(err)
	}
	var d dummy
	if err := DecodeJson(&buf, &d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "a" || d.Amount != 1 {
		t.Fatalf("unexpected %#v", d)
	}
}

func TestIsValidJson(t *testing.T) {
	if !IsValidJson([]byte(`{"a":[1,2]}`)) {
		t.Fatal("should be valid")
	}
	if IsValidJson([]byte(`{"a":`)) {
		t.Fatal("should be invalid")
	}
}

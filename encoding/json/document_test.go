package json

import (
	"testing"
)

func TestParseDocument(t *testing.T) {
	doc, err := SParseDocument(`{
		"Id": "5f0b8c4e-6a1c-4bd2-9d1c-8c8bbf1d2e10",
		"SourceStream": "Listening",
		"Attempts": 3,
		"BigId": 9007199254740993,
		"Duration": 12.5,
		"Done": true,
		"Tags": ["a", "b"],
		"Output": { "Url": "https://cdn/1.m4a" }
	}`)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Kind() != KindObject {
		t.Fatalf("kind: %v", doc.Kind())
	}
	if v := doc.Get("SourceStream").Str(); v != "Listening" {
		t.Fatal(v)
	}
	if v := doc.Get("sourceStream").Str(); v != "Listening" {
		t.Fatalf("case-insensitive lookup failed, %v", v)
	}
	if v := doc.Get("Attempts").Int(); v != 3 {
		t.Fatal(v)
	}
	if v := doc.Get("BigId").Int64(); v != 9007199254740993 {
		t.Fatalf("precision lost, %v", v)
	}
	if v := doc.Get("Duration").Float(); v != 12.5 {
		t.Fatal(v)
	}
	if !doc.Get("Done").Bool() {
		t.Fatal("Done should be true")
	}
	if v := doc.Get("Tags").Len(); v != 2 {
		t.Fatal(v)
	}
	if v := doc.Get("Tags").Index(1).Str(); v != "b" {
		t.Fatal(v)
	}
	if !doc.Get("Tags").Index(5).IsNull() {
		t.Fatal("out of range index should be null")
	}
	if v := doc.Path("Output", "Url").Str(); v != "https://cdn/1.m4a" {
		t.Fatal(v)
	}
	if !doc.Path("Output", "Missing", "Deeper").IsNull() {
		t.Fatal("missing path should be null")
	}
	if _, err := doc.Get("SourceStream").IntE(); err == nil {
		t.Fatal("string should not be converted to int")
	}
	if !doc.Has("Id") || doc.Has("id") {
		t.Fatal("Has should match exactly")
	}
	if keys := doc.Keys(); len(keys) != 8 || keys[0] != "Attempts" {
		t.Fatalf("keys: %v", keys)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	for _, in := range []string{"", "   ", "null"} {
		doc, err := SParseDocument(in)
		if err != nil {
			t.Fatal(err)
		}
		if !doc.IsNull() || doc.Kind() != KindNull {
			t.Fatalf("%q should be parsed as null document", in)
		}
		if doc.Get("any").Str() != "" {
			t.Fatal("lookup on null document should be empty")
		}
	}

	if _, err := SParseDocument(`{"broken":`); err == nil {
		t.Fatal("malformed json should fail")
	}
}

func TestDocumentDecode(t *testing.T) {
	doc, err := SParseDocument(`{"name": "episode", "amount": 42}`)
	if err != nil {
		t.Fatal(err)
	}
	var d dummy
	if err := doc.Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "episode" || d.Amount != 42 {
		t.Fatalf("%#v", d)
	}

	if s := doc.String(); s != `{"amount":42,"name":"episode"}` && s != `{"name":"episode","amount":42}` {
		t.Fatalf("unexpected: %v", s)
	}

	type wrapper struct {
		Payload Document `json:"payload"`
	}
	w, err := SParseJsonAs[wrapper](`{"payload": {"k": [1, 2]}}`)
	if err != nil {
		t.Fatal(err)
	}
	if w.Payload.Get("k").Index(1).Int() != 2 {
		t.Fatalf("%v", w.Payload)
	}
}

package payload_test

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/xraph/courier/payload"
)

func TestFormatJSONCompact(t *testing.T) {
	body, kind, err := payload.Format(map[string]any{"b": 1, "a": "<x>"}, "json")
	if err != nil {
		t.Fatal(err)
	}
	if kind != payload.JSON {
		t.Fatalf("kind = %q", kind)
	}
	if got, want := string(body), `{"a":"<x>","b":1}`; got != want {
		t.Fatalf("body = %s, want %s", got, want)
	}
}

func TestFormatJSONRawMessagePreservesNumbers(t *testing.T) {
	raw := json.RawMessage(`{"big":12345678901234567890,"f":1.50}`)
	body, _, err := payload.Format(raw, "json")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(body), `{"big":12345678901234567890,"f":1.50}`; got != want {
		t.Fatalf("body = %s, want %s", got, want)
	}
}

func TestFormatUnknownFallsBackToJSON(t *testing.T) {
	body, kind, err := payload.Format(map[string]any{"a": 1}, "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if kind != payload.JSON {
		t.Fatalf("kind = %q, want json", kind)
	}
	if string(body) != `{"a":1}` {
		t.Fatalf("body = %s", body)
	}
}

func TestFormatXMLShape(t *testing.T) {
	body, kind, err := payload.Format(map[string]any{
		"message": "hi",
		"test":    true,
		"data":    map[string]any{"n": 3, "none": nil},
		"tags":    []any{"a", map[string]any{"k": "v"}},
	}, "XML")
	if err != nil {
		t.Fatal(err)
	}
	if kind != payload.XML {
		t.Fatalf("kind = %q", kind)
	}

	want := strings.Join([]string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<webhook-payload>`,
		`<data>`,
		"<n>3</n>\n<none>None</none>",
		`</data>`,
		`<message>hi</message>`,
		`<tags>a</tags>`,
		`<tags>`,
		`<k>v</k>`,
		`</tags>`,
		`<test>True</test>`,
		`</webhook-payload>`,
	}, "\n")
	if string(body) != want {
		t.Fatalf("xml mismatch\n got: %s\nwant: %s", body, want)
	}
}

func TestFormatXMLEscapesText(t *testing.T) {
	body, _, err := payload.Format(map[string]any{"m": `a<b & "c"`}, "xml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "<m>a&lt;b &amp; &#34;c&#34;</m>") {
		t.Fatalf("text not escaped: %s", body)
	}
}

func TestFormatXMLNonMappingRoot(t *testing.T) {
	body, _, err := payload.Format([]any{1, 2}, "xml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "<value>1</value>\n<value>2</value>") {
		t.Fatalf("unexpected body: %s", body)
	}
}

// The XML rendering carries the same keys and leaf values as the JSON one.
func TestFormatJSONAndXMLAgree(t *testing.T) {
	in := map[string]any{"event": "update.released", "count": 2, "nested": map[string]any{"id": "x1"}}

	jsonBody, _, err := payload.Format(in, "json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(jsonBody, &decoded); err != nil {
		t.Fatal(err)
	}

	xmlBody, _, err := payload.Format(in, "xml")
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Event  string `xml:"event"`
		Count  int    `xml:"count"`
		Nested struct {
			ID string `xml:"id"`
		} `xml:"nested"`
	}
	if err := xml.Unmarshal(xmlBody, &doc); err != nil {
		t.Fatalf("xml does not parse: %v\n%s", err, xmlBody)
	}

	if doc.Event != decoded["event"] || float64(doc.Count) != decoded["count"] {
		t.Fatalf("scalar mismatch: xml=%+v json=%v", doc, decoded)
	}
	if doc.Nested.ID != decoded["nested"].(map[string]any)["id"] {
		t.Fatalf("nested mismatch: xml=%+v json=%v", doc, decoded)
	}
}

func TestFromAnyStruct(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	v, err := payload.FromAny(item{Name: "n"})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(payload.Mapping)
	if !ok {
		t.Fatalf("got %T, want Mapping", v)
	}
	if s, _ := m["name"].(payload.Scalar); s.V != "n" {
		t.Fatalf("name = %v", m["name"])
	}
}

func TestContentType(t *testing.T) {
	if payload.ContentType(payload.XML) != "application/xml" {
		t.Fatal("xml content type")
	}
	if payload.ContentType(payload.JSON) != "application/json" {
		t.Fatal("json content type")
	}
}

package payload

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is a wire format for delivery bodies.
type Kind string

const (
	JSON Kind = "json"
	XML  Kind = "xml"
)

const (
	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`
	xmlRoot   = "webhook-payload"

	// rootKey wraps a payload whose root is not a mapping.
	rootKey = "value"
)

// ParseKind reports whether s names a supported format.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case JSON, XML:
		return k, true
	default:
		return JSON, false
	}
}

// ContentType returns the Content-Type header value for k.
func ContentType(k Kind) string {
	if k == XML {
		return "application/xml"
	}
	return "application/json"
}

// Format renders v in the requested format and returns the body together
// with the format actually used. Unknown formats are rendered as JSON.
func Format(v any, format string) ([]byte, Kind, error) {
	kind, _ := ParseKind(format)

	val, err := FromAny(v)
	if err != nil {
		return nil, kind, err
	}

	switch kind {
	case XML:
		return formatXML(val), XML, nil
	default:
		body, err := formatJSON(val)
		return body, JSON, err
	}
}

func formatJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Interface(v)); err != nil {
		return nil, fmt.Errorf("payload: encode json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func formatXML(v Value) []byte {
	root, ok := v.(Mapping)
	if !ok {
		root = Mapping{rootKey: v}
	}

	lines := []string{xmlHeader, "<" + xmlRoot + ">"}
	lines = append(lines, mappingLines(root)...)
	lines = append(lines, "</"+xmlRoot+">")
	return []byte(strings.Join(lines, "\n"))
}

func mappingLines(m Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, elementLines(k, m[k])...)
	}
	return lines
}

// elementLines renders one keyed value. Lists repeat the key once per item.
func elementLines(key string, v Value) []string {
	switch t := v.(type) {
	case Mapping:
		return []string{"<" + key + ">", strings.Join(mappingLines(t), "\n"), "</" + key + ">"}
	case List:
		var lines []string
		for _, item := range t {
			lines = append(lines, elementLines(key, item)...)
		}
		return lines
	case Scalar:
		return []string{"<" + key + ">" + escape(scalarText(t.V)) + "</" + key + ">"}
	default:
		return nil
	}
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

func escape(s string) string {
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Package output encodes extraction results and renders context listings.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"kin/internal/extract"
)

// Format selects an encoding for the result map.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// ParseFormat parses a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or cbor)", s)
	}
}

// jsonIndent is four spaces, the layout consumers of the result file expect.
const jsonIndent = "    "

// cborEncMode uses Core Deterministic Encoding: identical results always
// produce identical bytes.
var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("output: CBOR encoder initialization failed: " + err.Error())
	}
}

// Encode writes res to w in the given format. JSON and YAML keep keys in
// first-appearance order; CBOR sorts them.
func Encode(w io.Writer, res *extract.Result, f Format) error {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatJSON, "":
		data, err = EncodeJSON(res)
	case FormatYAML:
		data, err = EncodeYAML(res)
	case FormatCBOR:
		data, err = cborEncMode.Marshal(normalized(res).Map())
	default:
		return fmt.Errorf("unknown output format %q", f)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	_, err = w.Write(data)
	return err
}

// normalized returns res with nil content slices replaced by empty ones
// so every encoder emits an empty list rather than null.
func normalized(res *extract.Result) *extract.Result {
	out := &extract.Result{Entries: make([]extract.Entry, len(res.Entries))}
	for i, e := range res.Entries {
		if e.Record.Content == nil {
			e.Record.Content = []string{}
		}
		out.Entries[i] = e
	}
	return out
}

// EncodeJSON renders the result as a JSON object with four-space
// indentation and keys in first-appearance order. An empty result is {}.
func EncodeJSON(res *extract.Result) ([]byte, error) {
	res = normalized(res)
	if len(res.Entries) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, e := range res.Entries {
		key, err := marshalJSON(e.Key, "")
		if err != nil {
			return nil, err
		}
		val, err := marshalJSON(e.Record, jsonIndent)
		if err != nil {
			return nil, err
		}
		buf.WriteString(jsonIndent)
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(res.Entries)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalJSON(v any, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent(prefix, jsonIndent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeYAML renders the result as a YAML mapping in first-appearance
// key order.
func EncodeYAML(res *extract.Result) ([]byte, error) {
	res = normalized(res)
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range res.Entries {
		var val yaml.Node
		if err := val.Encode(e.Record); err != nil {
			return nil, fmt.Errorf("key %q: %w", e.Key, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key},
			&val,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCBOR decodes a CBOR result map.
func DecodeCBOR(data []byte) (map[string]extract.Record, error) {
	var m map[string]extract.Record
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

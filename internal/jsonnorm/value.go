// Package jsonnorm decodes arbitrary JSON into a generic value tree and
// re-encodes it in compact form.
package jsonnorm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxDepth bounds array/object nesting. Deeper documents fail to decode and
// are therefore passed through untouched by Normalize.
const MaxDepth = 64

var (
	// ErrEmpty is returned when the input holds no JSON value at all.
	ErrEmpty = errors.New("jsonnorm: empty input")
	// ErrTrailingData is returned when content follows the first JSON value.
	ErrTrailingData = errors.New("jsonnorm: trailing data after value")
	// ErrTooDeep is returned when nesting exceeds MaxDepth.
	ErrTooDeep = errors.New("jsonnorm: nesting too deep")
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Member is a single name/value pair of an object.
type Member struct {
	Name  string
	Value Value
}

// Value is a JSON value of any shape. Numbers keep their literal text so
// re-encoding never changes precision.
type Value struct {
	Kind    Kind
	Bool    bool
	Text    string // number literal or string contents
	Items   []Value
	Members []Member
}

// Decode parses exactly one JSON value from data. Surrounding whitespace is
// allowed; anything else after the value is an error. Duplicate object
// member names keep the last value at the position of the first occurrence.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return Value{}, ErrEmpty
	}
	if err != nil {
		return Value{}, fmt.Errorf("jsonnorm: %w", err)
	}

	v, err := decodeToken(dec, tok, 0)
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, ErrTrailingData
	}
	return v, nil
}

func decodeToken(dec *json.Decoder, tok json.Token, depth int) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Value{Kind: Null}, nil
	case bool:
		return Value{Kind: Bool, Bool: t}, nil
	case json.Number:
		return Value{Kind: Number, Text: t.String()}, nil
	case string:
		return Value{Kind: String, Text: t}, nil
	case json.Delim:
		if depth >= MaxDepth {
			return Value{}, ErrTooDeep
		}
		switch t {
		case '[':
			return decodeArray(dec, depth+1)
		case '{':
			return decodeObject(dec, depth+1)
		}
	}
	return Value{}, fmt.Errorf("jsonnorm: unexpected token %v", tok)
}

func decodeArray(dec *json.Decoder, depth int) (Value, error) {
	v := Value{Kind: Array}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("jsonnorm: %w", err)
		}
		item, err := decodeToken(dec, tok, depth)
		if err != nil {
			return Value{}, err
		}
		v.Items = append(v.Items, item)
	}
	if _, err := dec.Token(); err != nil { // ']'
		return Value{}, fmt.Errorf("jsonnorm: %w", err)
	}
	return v, nil
}

func decodeObject(dec *json.Decoder, depth int) (Value, error) {
	v := Value{Kind: Object}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("jsonnorm: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("jsonnorm: unexpected object key %v", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("jsonnorm: %w", err)
		}
		member, err := decodeToken(dec, tok, depth)
		if err != nil {
			return Value{}, err
		}

		if i, seen := index[name]; seen {
			v.Members[i].Value = member
			continue
		}
		index[name] = len(v.Members)
		v.Members = append(v.Members, Member{Name: name, Value: member})
	}
	if _, err := dec.Token(); err != nil { // '}'
		return Value{}, fmt.Errorf("jsonnorm: %w", err)
	}
	return v, nil
}

// AppendCompact appends the compact encoding of v to dst.
func (v Value) AppendCompact(dst []byte) []byte {
	switch v.Kind {
	case Bool:
		if v.Bool {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case Number:
		return append(dst, v.Text...)
	case String:
		return appendString(dst, v.Text)
	case Array:
		dst = append(dst, '[')
		for i, item := range v.Items {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = item.AppendCompact(dst)
		}
		return append(dst, ']')
	case Object:
		dst = append(dst, '{')
		for i, m := range v.Members {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendString(dst, m.Name)
			dst = append(dst, ':')
			dst = m.Value.AppendCompact(dst)
		}
		return append(dst, '}')
	}
	return append(dst, "null"...)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.AppendCompact(nil), nil
}

func (v Value) String() string {
	return string(v.AppendCompact(nil))
}

const hex = "0123456789abcdef"

// appendString writes s as a JSON string. HTML characters are left as-is;
// control characters and U+2028/U+2029 are escaped.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			if b >= 0x20 && b != '"' && b != '\\' {
				i++
				continue
			}
			dst = append(dst, s[start:i]...)
			switch b {
			case '"', '\\':
				dst = append(dst, '\\', b)
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			case '\b':
				dst = append(dst, '\\', 'b')
			case '\f':
				dst = append(dst, '\\', 'f')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hex[b>>4], hex[b&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\u2028' || r == '\u2029' {
			dst = append(dst, s[start:i]...)
			dst = append(dst, '\\', 'u', '2', '0', '2', hex[r&0xF])
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}
